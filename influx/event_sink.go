package influx

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/pkg/errors"

	"github.com/hubertat/xvfkit/monitor"
)

const defaultMeasurement = "xvf_buttons"

// EventSink stores monitor events in InfluxDB. Writes are batched by the
// client and never block the monitor.
type EventSink struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	// Device is added as a tag to every point.
	Device string

	client   influxdb2.Client
	writeApi api.WriteAPI
	logger   *log.Logger
	ready    bool
}

func (es *EventSink) measurement() string {
	if len(es.Measurement) > 0 {
		return es.Measurement
	}
	return defaultMeasurement
}

func (es *EventSink) Setup(ctx context.Context) error {
	es.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "Influx: ",
		Level:  log.GetLevel(),
	})

	es.client = influxdb2.NewClient(es.Host, es.Token)
	health, err := es.client.Health(ctx)
	if err != nil {
		es.client.Close()
		return errors.Wrap(err, "failed to init influx event sink")
	}
	if health.Status != domain.HealthCheckStatusPass {
		es.client.Close()
		return errors.Errorf("influx at %s not healthy (%s)", es.Host, health.Status)
	}

	es.writeApi = es.client.WriteAPI(es.Organization, es.Bucket)
	go func() {
		for err := range es.writeApi.Errors() {
			es.logger.Warn("write failed", "err", err)
		}
	}()

	es.ready = true
	return nil
}

func (es *EventSink) IsReady() bool {
	return es.ready
}

func (es *EventSink) Close() error {
	if es.client == nil {
		return nil
	}
	es.writeApi.Flush()
	es.client.Close()
	es.ready = false
	return nil
}

func (es *EventSink) eventPoint(ev monitor.Event) *write.Point {
	tags := map[string]string{
		"event": ev.Kind.String(),
	}
	if len(es.Device) > 0 {
		tags["device"] = es.Device
	}
	if ev.Kind == monitor.EventPressed || ev.Kind == monitor.EventReleased {
		tags["button"] = ev.Button.String()
	}

	fields := map[string]interface{}{
		"poll":     ev.Poll,
		"inferred": ev.Inferred,
		"bitmap":   int64(ev.Bitmap),
	}

	return influxdb2.NewPoint(es.measurement(), tags, fields, ev.At)
}

func (es *EventSink) MonitorEvent(ev monitor.Event) {
	if !es.ready {
		return
	}
	es.writeApi.WritePoint(es.eventPoint(ev))
}

// CountPresses returns presses per button within the last window (flux duration, e.g. "24h").
func (es *EventSink) CountPresses(ctx context.Context, window string) (counts map[string]int64, err error) {
	if !es.ready {
		err = errors.New("influx event sink not ready")
		return
	}

	query := es.pressesQuery(window)
	result, err := es.client.QueryAPI(es.Organization).Query(ctx, query)
	if err != nil {
		err = errors.Wrapf(err, "failed to run query:\n%s\n in influx EventSink;", query)
		return
	}
	defer result.Close()

	counts = map[string]int64{}
	for result.Next() {
		button := fmt.Sprint(result.Record().ValueByKey("button"))
		switch value := result.Record().Value().(type) {
		case int64:
			counts[button] += value
		default:
			err = errors.Errorf("got count (for %s) of unsupported type", button)
			return
		}
	}
	if result.Err() != nil {
		err = errors.Wrap(result.Err(), "got error parsing result table")
	}

	return
}

func (es *EventSink) pressesQuery(window string) string {
	return fmt.Sprintf(`
from(bucket: "%s")
|> range(start: -%s)
|> filter(fn: (r) => r["_measurement"] == "%s")
|> filter(fn: (r) => r["event"] == "pressed")
|> filter(fn: (r) => r["_field"] == "poll")
|> group(columns: ["button"])
|> count()
`, es.Bucket, window, es.measurement())
}
