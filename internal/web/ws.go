package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/notify"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
)

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.CORSOrigins, "*") {
		return true
	}
	return slices.Contains(s.CORSOrigins, origin)
}

// authorizeTopics checks every requested topic before the upgrade. Staff may
// watch any slot or party, a party only its own entry.
func authorizeTopics(actor waitlist.Actor, topics []string) (int, error) {
	if len(topics) == 0 {
		return http.StatusBadRequest, fmt.Errorf("%w: at least one topic is required", waitlist.ErrValidation)
	}
	if actor.Role == waitlist.RoleAnonymous {
		return http.StatusUnauthorized, errors.New("authentication required")
	}
	for _, t := range topics {
		scope, subject, ok := waitlist.ParseTopic(t)
		if !ok {
			return http.StatusBadRequest, fmt.Errorf("%w: bad topic %q", waitlist.ErrValidation, t)
		}
		if actor.IsStaff() {
			continue
		}
		if scope == "staff" || !actor.Owns(subject) {
			return http.StatusForbidden, fmt.Errorf("%w: topic %q", waitlist.ErrUnauthorized, t)
		}
	}
	return 0, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	topics := r.URL.Query()["topic"]
	actor := auth.ActorFromContext(r.Context())
	if code, err := authorizeTopics(actor, topics); err != nil {
		respondError(w, code, err.Error())
		return
	}

	// subscribe first so nothing published after the handshake is missed
	sub := s.Bus.Subscribe(topics...)

	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		sub.Close()
		s.Log.Warn("websocket upgrade failed", slog.String("remote", r.RemoteAddr), sl.Err(err))
		return
	}
	s.Log.Debug("websocket subscribed",
		slog.String("role", string(actor.Role)),
		slog.Any("topics", topics),
	)

	go s.writePump(conn, sub)
	readPump(conn, sub)
}

// writePump is the only writer on conn. It ends when the subscription is
// closed, by the client going away, the bus shutting down or the
// subscriber falling behind.
func (s *Server) writePump(conn *websocket.Conn, sub *notify.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case p, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code, reason := websocket.CloseGoingAway, "subscription closed"
				if sub.Overflowed() {
					code, reason = websocket.CloseTryAgainLater, "subscriber too slow"
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteJSON(p.Event); err != nil {
				sub.Close()
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		}
	}
}

// readPump discards client frames and notices when the client goes away.
func readPump(conn *websocket.Conn, sub *notify.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
