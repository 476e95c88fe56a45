package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/medrelay/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (r *Router) handleTranscribeWS(w http.ResponseWriter, req *http.Request) {
	if r.sessions.IsDraining() {
		r.metrics.SessionRejected.Inc()
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server draining"})
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("transcribe_ws: upgrade failed")
		return
	}

	session := relay.NewSession(conn, relay.Options{
		Upstream:     r.cfg.Realtime,
		Instructions: r.cfg.Instructions,
		Dial:         r.cfg.Dial,
		ReadLimit:    r.cfg.ReadLimit,
		WriteTimeout: r.cfg.WriteTimeout,
		Logger:       r.logger,
		Metrics:      r.metrics,
		EventLog:     r.eventLog,
	})

	// Draining may have started while the upgrade was in flight.
	if !r.sessions.Add(session.ID(), session) {
		r.metrics.SessionRejected.Inc()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server draining"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer r.sessions.Done(session.ID())

	r.logger.Info().Str("sessionId", session.ID()).Str("remote", req.RemoteAddr).Msg("transcribe_ws: connection established")

	if err := session.Run(req.Context()); err != nil && !errors.Is(err, relay.ErrClientTooSlow) {
		captureError(req, err, "transcribe_ws: session failed", map[string]string{
			"session_id": session.ID(),
		})
	}
}
