package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const defaultControllerTimeout = 10 * time.Second

// Controller talks to the service hosting the voice agent session.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}

// HttpController drives the agent service over its JSON api (POST /start, /stop, /ping).
type HttpController struct {
	Url         string
	ChannelName string
	UserId      uint32
	GraphName   string

	Greeting string
	Prompt   string
	Language string
	Voice    string
	Model    string

	Timeout time.Duration

	client *http.Client
}

type controllerRequest struct {
	RequestId   string          `json:"request_id"`
	ChannelName string          `json:"channel_name"`
	UserUid     uint32          `json:"user_uid,omitempty"`
	GraphName   string          `json:"graph_name,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
}

type controllerResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type agentProperties struct {
	Greeting string `json:"greeting,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (hc *HttpController) netClient() *http.Client {
	if hc.client == nil {
		timeout := hc.Timeout
		if timeout <= 0 {
			timeout = defaultControllerTimeout
		}
		hc.client = &http.Client{Timeout: timeout}
	}
	return hc.client
}

func (hc *HttpController) post(ctx context.Context, path string, body controllerRequest) error {
	reqUrl, err := url.Parse(hc.Url)
	if err != nil {
		return errors.Wrap(err, "agent controller failed to parse Url")
	}
	reqUrl, err = reqUrl.Parse(path)
	if err != nil {
		return errors.Wrapf(err, "agent controller error parsing url (%s)", path)
	}

	body.RequestId = fmt.Sprintf("%d", time.Now().UnixNano())
	body.ChannelName = hc.ChannelName

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "agent controller failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqUrl.String(), bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "agent controller error preparing request")
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := hc.netClient().Do(req)
	if err != nil {
		return errors.Wrapf(err, "agent controller %s request failed", path)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return errors.Errorf("agent controller %s failed (response code: %d)", path, response.StatusCode)
	}

	result := controllerResponse{}
	err = json.NewDecoder(response.Body).Decode(&result)
	if err != nil {
		return errors.Wrapf(err, "agent controller %s: decoding response failed", path)
	}
	if result.Code != "0" {
		return errors.Errorf("agent controller %s rejected: code %s (%s)", path, result.Code, result.Msg)
	}

	return nil
}

func (hc *HttpController) Start(ctx context.Context) error {
	properties, err := json.Marshal(agentProperties{
		Greeting: hc.Greeting,
		Prompt:   hc.Prompt,
		Language: hc.Language,
		Voice:    hc.Voice,
		Model:    hc.Model,
	})
	if err != nil {
		return errors.Wrap(err, "agent controller failed to encode properties")
	}

	return hc.post(ctx, "start", controllerRequest{
		UserUid:    hc.UserId,
		GraphName:  hc.GraphName,
		Properties: properties,
	})
}

func (hc *HttpController) Stop(ctx context.Context) error {
	return hc.post(ctx, "stop", controllerRequest{})
}

func (hc *HttpController) Ping(ctx context.Context) error {
	return hc.post(ctx, "ping", controllerRequest{})
}
