// Package streamws pushes live session events to websocket viewers and
// accepts human input over the same connection.
package streamws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"

	"yuzu/discussion/internal/auth"
	"yuzu/discussion/internal/orchestrator"
	"yuzu/discussion/internal/store"
	"yuzu/discussion/internal/types"
)

// Message is an inbound client frame.
type Message struct {
	Type string `json:"type"` // human_turn | microphone | ping
	Text string `json:"text,omitempty"`
	TsMs int64  `json:"ts_ms,omitempty"`
}

// Outbound frames wrap store events.
type Outbound struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Event     types.Event `json:"event"`
}

const (
	writeTimeout = 5 * time.Second
	tokenSkew    = 30
)

type Server struct {
	Secret   string
	Store    *store.Store
	Sessions *orchestrator.Manager
	Reg      *Registry
}

func NewServer(secret string, st *store.Store, mgr *orchestrator.Manager, reg *Registry) *Server {
	return &Server{Secret: secret, Store: st, Sessions: mgr, Reg: reg}
}

// HandleStream serves GET /sessions/{id}/ws. The stream token is read from
// the Authorization header or the token query parameter (browsers cannot set
// headers on websocket upgrades).
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.Store.GetSession(sessionID) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	token := r.URL.Query().Get("token")
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		token = strings.TrimPrefix(authz, "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing stream token", http.StatusUnauthorized)
		return
	}
	if _, _, err := auth.ValidateStreamToken(s.Secret, token, sessionID, time.Now(), tokenSkew); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("ws accept")
		return
	}
	s.Reg.Add(sessionID, c)
	defer s.Reg.Remove(sessionID, c)
	s.Store.AppendEvent(sessionID, "viewer_connected", map[string]any{"viewers": s.Reg.Count(sessionID)})

	events, unsubscribe := s.Store.Subscribe(sessionID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pump(ctx, cancel, c, sessionID, events)

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Store.AppendEvent(sessionID, "viewer_msg_invalid", map[string]any{"error": err.Error()})
			continue
		}
		s.dispatch(sessionID, msg)
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.Store.AppendEvent(sessionID, "viewer_disconnected", nil)
}

func (s *Server) pump(ctx context.Context, cancel context.CancelFunc, c *ws.Conn, sessionID string, events <-chan types.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := SendJSON(wctx, c, Outbound{Type: "event", SessionID: sessionID, Event: evt})
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(sessionID string, msg Message) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return
	}
	switch msg.Type {
	case "human_turn":
		if !sess.SubmitHumanTurn(msg.Text) {
			s.Store.AppendEvent(sessionID, "human_turn_rejected", nil)
		}
	case "microphone":
		_ = sess.ActivateMicrophone()
	case "ping":
	default:
		s.Store.AppendEvent(sessionID, "viewer_msg_unknown", map[string]any{"type": msg.Type})
	}
}
