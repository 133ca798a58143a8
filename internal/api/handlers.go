package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"yuzu/discussion/internal/auth"
	"yuzu/discussion/internal/config"
	"yuzu/discussion/internal/health"
	"yuzu/discussion/internal/orchestrator"
	"yuzu/discussion/internal/store"
	"yuzu/discussion/internal/streamws"
	"yuzu/discussion/internal/types"
)

// TopicGenerator writes a discussion case for a company and role.
type TopicGenerator interface {
	GenerateTopic(ctx context.Context, company, jobTitle string) string
}

// ReadinessFunc reports whether the dependencies of the service are usable.
type ReadinessFunc func(ctx context.Context) health.HealthStatus

type Handlers struct {
	cfg      config.Config
	store    *store.Store
	sessions *orchestrator.Manager
	topics   TopicGenerator
	streams  *streamws.Server
	ready    ReadinessFunc
}

func NewHandlers(cfg config.Config, st *store.Store, mgr *orchestrator.Manager, topics TopicGenerator) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    st,
		sessions: mgr,
		topics:   topics,
		streams:  streamws.NewServer(cfg.Stream.TokenSecret, st, mgr, streamws.NewRegistry()),
		ready:    func(ctx context.Context) health.HealthStatus { return health.CheckAll(ctx, cfg) },
	}
}

// WithReadiness replaces the readiness probe.
func (h *Handlers) WithReadiness(fn ReadinessFunc) *Handlers {
	h.ready = fn
	return h
}

type createSessionRequest struct {
	Topic    string `json:"topic"`
	JobTitle string `json:"job_title"`
	Company  string `json:"company"`
}

type turnRequest struct {
	Text string `json:"text"`
}

type topicRequest struct {
	Company  string `json:"company"`
	JobTitle string `json:"job_title"`
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	sess, err := h.sessions.StartSessionWithID(id, orchestrator.Config{
		Topic:    req.Topic,
		JobTitle: req.JobTitle,
		Company:  req.Company,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := sess.Config()
	rec := &types.Session{
		ID:        id,
		Topic:     cfg.Topic,
		JobTitle:  cfg.JobTitle,
		Company:   cfg.Company,
		KeyPoints: sess.KeyPoints(),
		CreatedAt: time.Now().UTC(),
		Status:    types.StatusActive,
	}
	_ = h.store.CreateSession(rec)

	ttl := time.Duration(h.cfg.Stream.TokenTTLMin) * time.Minute
	token, err := auth.IssueStreamToken(h.cfg.Stream.TokenSecret, id, ttl, time.Now())
	if err != nil && !errors.Is(err, auth.ErrNoSecret) {
		log.Error().Err(err).Str("session_id", id).Msg("stream token")
	}
	log.Info().Str("session_id", id).Int("key_points", len(rec.KeyPoints)).Msg("session created")

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":   id,
		"stream_token": token,
		"key_points":   rec.KeyPoints,
	})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		// Ended sessions keep their registry record.
		if rec := h.store.GetSession(id); rec != nil {
			writeJSON(w, http.StatusOK, map[string]any{"session": rec, "live": false})
			return
		}
		writeError(w, err)
		return
	}
	snap, err := sess.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) HandleSubmitTurn(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if !sess.SubmitHumanTurn(req.Text) {
		http.Error(w, "session no longer accepts turns", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *Handlers) HandleMicrophone(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.ActivateMicrophone(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	if secs := h.cfg.LLM.TimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		// Retries may run several attempts back to back.
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs*(h.cfg.LLM.MaxRetries+1))*time.Second)
		defer cancel()
	}
	ev, err := sess.RequestFinalEvaluation(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.store.SetStatus(id, types.StatusEvaluated)
	h.store.AppendEvent(id, "evaluation_ready", map[string]any{
		"overall_score": ev.Report.OverallScore,
		"fallback":      ev.Report.Fallback,
	})
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.sessions.End(id); err != nil {
		if h.store.GetSession(id) != nil {
			h.store.AppendEvent(id, "end_requested", map[string]any{"noop": true})
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": false})
			return
		}
		writeError(w, err)
		return
	}
	_ = h.store.SetStatus(id, types.StatusEnded)
	h.streams.Reg.CloseSession(id, "session ended")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": false})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if h.store.GetSession(id) == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id),
	})
}

func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request, id string) {
	h.streams.HandleStream(w, r, id)
}

func (h *Handlers) HandleGenerateTopic(w http.ResponseWriter, r *http.Request) {
	if h.topics == nil {
		http.Error(w, "topic generation unavailable", http.StatusServiceUnavailable)
		return
	}
	var req topicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Company = strings.TrimSpace(req.Company)
	req.JobTitle = strings.TrimSpace(req.JobTitle)
	if req.Company == "" || req.JobTitle == "" {
		http.Error(w, "company and job_title are required", http.StatusBadRequest)
		return
	}
	topic := h.topics.GenerateTopic(r.Context(), req.Company, req.JobTitle)
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic})
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status := h.ready(ctx)
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, orchestrator.ErrEmptyInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orchestrator.ErrSessionExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
