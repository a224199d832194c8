package xvfkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/hubertat/xvfkit/monitor"
)

const statusTokenHeader = "xvfkit-token"
const httpTimeoutsMs = 3000
const overrideTimeoutsMs = 15000
const pressesWindow = "24h"

// PressCounter reports button presses per button over a flux duration window.
type PressCounter interface {
	CountPresses(ctx context.Context, window string) (map[string]int64, error)
}

// StatusServer exposes monitor status and agent overrides over http.
type StatusServer struct {
	Token    string
	HttpAddr string

	kit       *XvfKit
	presses   PressCounter
	server    *http.Server
	serverErr chan error
}

type statusResponse struct {
	Name         string
	AgentRunning bool
	Discovered   bool
	ResourceId   string           `json:",omitempty"`
	Monitor      *monitor.Stats   `json:",omitempty"`
	Presses24h   map[string]int64 `json:",omitempty"`
}

func (ss *StatusServer) Handler() http.Handler {
	handler := httprouter.New()
	handler.GET("/status", ss.handleStatus)
	handler.POST("/agent/:action", ss.handleAgent)
	return handler
}

func (ss *StatusServer) Setup() error {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	ss.server = &http.Server{
		Addr:              ss.HttpAddr,
		Handler:           ss.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      overrideTimeoutsMs * time.Millisecond,
		IdleTimeout:       2 * httpTimeout,
	}

	ss.serverErr = make(chan error, 1)
	go func() {
		err := ss.server.ListenAndServe()
		if err != http.ErrServerClosed {
			ss.kit.getLogger().Error("status server failed", "err", err)
		}
		ss.serverErr <- err
	}()

	return nil
}

func (ss *StatusServer) Close() error {
	if ss.server == nil {
		return nil
	}
	return ss.server.Close()
}

func (ss *StatusServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if len(ss.Token) == 0 {
		return true
	}
	if r.Header.Get(statusTokenHeader) == ss.Token || r.URL.Query().Get("token") == ss.Token {
		return true
	}

	http.Error(w, "token mismatch", http.StatusUnauthorized)
	return false
}

func (ss *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !ss.authorized(w, r) {
		return
	}

	status := statusResponse{Name: ss.kit.name()}
	if ss.kit.dispatcher != nil {
		status.AgentRunning = ss.kit.dispatcher.IsRunning()
	}
	if ss.kit.device != nil {
		id, ok := ss.kit.device.ResourceId()
		status.Discovered = ok
		if ok {
			status.ResourceId = fmt.Sprintf("0x%02X", id)
		}
	}
	stats, ok := ss.kit.MonitorStats()
	if ok {
		status.Monitor = &stats
	}

	if ss.presses != nil {
		ctx, cancel := context.WithTimeout(r.Context(), httpTimeoutsMs*time.Millisecond)
		presses, err := ss.presses.CountPresses(ctx, pressesWindow)
		cancel()
		if err != nil {
			ss.kit.getLogger().Warn("failed to count presses", "err", err)
		} else {
			status.Presses24h = presses
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (ss *StatusServer) handleAgent(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.authorized(w, r) {
		return
	}
	if ss.kit.dispatcher == nil {
		http.Error(w, "agent not configured", http.StatusServiceUnavailable)
		return
	}

	var running bool
	switch p.ByName("action") {
	case "start":
		running = true
	case "stop":
		running = false
	default:
		http.Error(w, "unrecognized agent action", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), overrideTimeoutsMs*time.Millisecond)
	defer cancel()

	err := ss.kit.dispatcher.Set(ctx, running, "http override")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
