package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps idle event streams open through proxies.
const heartbeatInterval = 15 * time.Second

var errStreamingUnsupported = errors.New("streaming not supported")

// eventStream writes server-sent events.
type eventStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	ticker *time.Ticker
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, errStreamingUnsupported
	}
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	return &eventStream{w: w, rc: rc, ticker: time.NewTicker(heartbeatInterval)}, nil
}

func (s *eventStream) send(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *eventStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *eventStream) heartbeat() <-chan time.Time {
	return s.ticker.C
}

func (s *eventStream) close() {
	s.ticker.Stop()
}
