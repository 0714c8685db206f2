package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/osctools/gpuscout/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback; browsers on the same host are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventPayload is one live search event on the websocket feed.
type EventPayload struct {
	Kind    string `json:"kind"`
	Phase   string `json:"phase"`
	GPUs    int    `json:"gpus"`
	Time    string `json:"time"`
	ProbeID string `json:"probe_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at"`
}

func eventToPayload(ev domain.Event) EventPayload {
	p := EventPayload{
		Phase:   string(ev.Phase),
		GPUs:    ev.Spec.GPUCount,
		Time:    domain.FormatCompact(ev.Spec.TimeWindow),
		ProbeID: ev.ProbeID,
		At:      ev.At.Format(time.RFC3339),
	}
	switch ev.Kind {
	case domain.EventSubmitted:
		p.Kind = "submitted"
	case domain.EventResolved:
		p.Kind = "resolved"
		p.Outcome = ev.Outcome.String()
		p.Detail = ev.Detail
	case domain.EventPhaseDone:
		p.Kind = "phase_done"
	}
	return p
}

// eventsHandler upgrades to a websocket and streams search events until the
// client disconnects or the event stream closes.
func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.events == nil {
			writeError(w, http.StatusServiceUnavailable, "no search running")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		events, cancel := s.events.Subscribe()
		defer cancel()

		// Drain client frames so pings and close messages are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		for ev := range events {
			if err := conn.WriteJSON(eventToPayload(ev)); err != nil {
				return
			}
		}
	}
}
