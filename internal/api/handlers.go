// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/culture-thirst/fontaine/internal/config"
	"github.com/culture-thirst/fontaine/internal/eventstream"
	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/metrics"
	"github.com/culture-thirst/fontaine/internal/realtime"
	"github.com/culture-thirst/fontaine/internal/store"
	"github.com/culture-thirst/fontaine/internal/validation"
)

// EventPublisher pushes sensor events onto the flow stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *eventstream.FlowEvent) error
}

// SessionCloser drives a captured close intent to completion.
type SessionCloser interface {
	ClosePending(ctx context.Context, pending *fountain.PendingClose) error
}

// Handler holds the dependencies behind the HTTP surface.
type Handler struct {
	cfg       *config.Config
	store     *store.Store
	tracker   *fountain.Tracker
	hub       *realtime.Hub
	publisher EventPublisher
	closer    SessionCloser
	upgrader  websocket.Upgrader
}

// NewHandler creates the handler set. publisher and closer may be nil when
// the messaging layer is disabled; the affected endpoints then return 503.
func NewHandler(cfg *config.Config, st *store.Store, tracker *fountain.Tracker, hub *realtime.Hub, publisher EventPublisher, closer SessionCloser) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     st,
		tracker:   tracker,
		hub:       hub,
		publisher: publisher,
		closer:    closer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the store must answer a read.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if _, err := h.store.GetLeaderboard(store.LeaderboardStudents); err != nil {
		rw.ServiceUnavailable("store not ready")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// Serial returns the kiosk's fountain identity.
func (h *Handler) Serial(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{
		"department": h.cfg.Fountain.Department,
		"serial":     h.cfg.Fountain.Serial,
		"fountainId": h.cfg.FountainID(),
	})
}

type dateParam struct {
	Date string `validate:"required,dateymd"`
}

func validDate(date string) bool {
	return validation.ValidateStruct(dateParam{Date: date}) == nil
}

// MachineRollup returns the kiosk machine's daily aggregate.
func (h *Handler) MachineRollup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	date := chi.URLParam(r, "date")
	if !validDate(date) {
		rw.UnprocessableEntity("date must be YYYY-MM-DD")
		return
	}

	key := fountain.FlowKey{Date: date, Department: h.cfg.Fountain.Department, Serial: h.cfg.Fountain.Serial}
	rollup, err := h.store.GetMachineRollup(key)
	if err != nil {
		logging.Error().Err(err).Str("key", key.String()).Msg("Machine rollup read failed")
		rw.InternalError("failed to read machine rollup")
		return
	}
	rw.Success(rollup)
}

// DepartmentRollup returns the kiosk department's daily aggregate.
func (h *Handler) DepartmentRollup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	date := chi.URLParam(r, "date")
	if !validDate(date) {
		rw.UnprocessableEntity("date must be YYYY-MM-DD")
		return
	}

	rollup, err := h.store.GetDepartmentRollup(date, h.cfg.Fountain.Department)
	if err != nil {
		logging.Error().Err(err).Str("date", date).Msg("Department rollup read failed")
		rw.InternalError("failed to read department rollup")
		return
	}
	rw.Success(rollup)
}

// Leaderboard returns the student or school board, ordered.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	kind := store.LeaderboardKind(chi.URLParam(r, "kind"))
	if kind != store.LeaderboardStudents && kind != store.LeaderboardSchools {
		rw.NotFound("leaderboard kind must be students or schools")
		return
	}

	lb, err := h.store.GetLeaderboard(kind)
	if err != nil {
		logging.Error().Err(err).Str("kind", string(kind)).Msg("Leaderboard read failed")
		rw.InternalError("failed to read leaderboard")
		return
	}
	rw.Success(lb)
}

type registerRequest struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	SchoolName  string `json:"schoolName"`
}

// RegisterUser creates an account and its leaderboard entries.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	nu := store.NewUser{
		ID:          req.UserID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		SchoolName:  req.SchoolName,
	}
	if err := validation.ValidateStruct(nu); err != nil {
		rw.UnprocessableEntityWithDetails("invalid registration", err)
		return
	}

	rec, err := h.store.CreateUser(r.Context(), nu)
	if errors.Is(err, store.ErrUserExists) {
		rw.Conflict("user already exists")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("user_id", req.UserID).Msg("User registration failed")
		rw.InternalError("failed to create user")
		return
	}
	rw.Created(rec)
}

// GetUser returns a profile including unlocked poems.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID := chi.URLParam(r, "id")

	rec, err := h.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrUserNotFound) {
		rw.NotFound("user not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("User read failed")
		rw.InternalError("failed to read user")
		return
	}
	rw.Success(rec)
}

// UserPoems returns the catalog entries for a user's unlocked poems.
func (h *Handler) UserPoems(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID := chi.URLParam(r, "id")

	poems, err := h.store.ListUnlockedPoems(r.Context(), userID)
	if errors.Is(err, store.ErrUserNotFound) {
		rw.NotFound("user not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Unlocked poems read failed")
		rw.InternalError("failed to read unlocked poems")
		return
	}
	rw.Success(poems)
}

// GetPoem returns one reward poem.
func (h *Handler) GetPoem(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	poemID := chi.URLParam(r, "id")

	poem, err := h.store.GetPoem(poemID)
	if errors.Is(err, store.ErrPoemNotFound) {
		rw.NotFound("poem not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("poem_id", poemID).Msg("Poem read failed")
		rw.InternalError("failed to read poem")
		return
	}
	rw.Success(poem)
}

type openSessionRequest struct {
	UserID     string `json:"userId" validate:"required"`
	FountainID string `json:"fountainId" validate:"required,fountainid"`
}

// OpenSession starts a dispensing session from a scanned fountain id.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		metrics.SessionOpenRejected.WithLabelValues("invalid_request").Inc()
		rw.UnprocessableEntityWithDetails("invalid session request", err)
		return
	}

	sess, err := h.tracker.Open(r.Context(), req.UserID, req.FountainID)
	switch {
	case errors.Is(err, fountain.ErrInvalidFountainID):
		metrics.SessionOpenRejected.WithLabelValues("invalid_id").Inc()
		rw.UnprocessableEntity("malformed fountain identifier")
		return
	case errors.Is(err, fountain.ErrSessionAlreadyActive):
		metrics.SessionOpenRejected.WithLabelValues("already_active").Inc()
		rw.Conflict("session already active for this user and fountain")
		return
	case errors.Is(err, fountain.ErrSessionCreate):
		metrics.SessionOpenRejected.WithLabelValues("create_failed").Inc()
		rw.ServiceUnavailable("session could not be persisted, retry the scan")
		return
	case err != nil:
		logging.Error().Err(err).Str("user_id", req.UserID).Msg("Session open failed")
		rw.InternalError("failed to open session")
		return
	}

	metrics.SessionsOpened.Inc()
	logging.Info().
		Str("session_id", sess.ID).
		Str("user_id", sess.UserID).
		Str("fountain_id", sess.Fountain.String()).
		Msg("Session opened")
	rw.Created(sess)
}

// StopSession is the UI stop signal: the session's tracked total is
// captured and reconciled immediately. The flow totals come from the
// sensor stream alone, so the request body is ignored.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	sessionID := chi.URLParam(r, "id")

	pending, err := h.tracker.BeginClose(sessionID, 0, "stop")
	switch {
	case errors.Is(err, fountain.ErrSessionNotFound):
		rw.NotFound("session not found")
		return
	case errors.Is(err, fountain.ErrSessionClosed):
		rw.Conflict("session already closed")
		return
	case err != nil:
		logging.Error().Err(err).Str("session_id", sessionID).Msg("Session stop failed")
		rw.InternalError("failed to stop session")
		return
	}

	if h.closer == nil {
		rw.ServiceUnavailable("reconciliation pipeline unavailable, close intent retained")
		return
	}
	if err := h.closer.ClosePending(r.Context(), pending); err != nil {
		// The intent is durable; the startup replay or a retried stop
		// finishes the close.
		logging.Error().Err(err).Str("session_id", sessionID).Msg("Close apply failed, intent retained")
		rw.ServiceUnavailable("close captured but not yet applied, it will be retried")
		return
	}
	rw.Success(map[string]interface{}{
		"sessionId":   pending.SessionID,
		"finalLiters": pending.FinalLiters,
	})
}

type ingestRequest struct {
	Kind        string  `json:"kind" validate:"omitempty,oneof=flow_snapshot session_terminal"`
	FountainID  string  `json:"fountainId" validate:"required,fountainid"`
	WaterLiters float64 `json:"waterLiters" validate:"min=0"`
}

// IngestFlow accepts a sensor push and publishes it onto the flow stream.
func (h *Handler) IngestFlow(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	if err := validation.ValidateStruct(req); err != nil {
		rw.UnprocessableEntityWithDetails("invalid flow event", err)
		return
	}
	fid, err := fountain.ParseID(req.FountainID)
	if err != nil {
		rw.UnprocessableEntity("malformed fountain identifier")
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = eventstream.KindFlowSnapshot
	}

	if h.publisher == nil {
		rw.ServiceUnavailable("event stream unavailable")
		return
	}

	key := fountain.FlowKey{
		Date:       time.Now().UTC().Format("2006-01-02"),
		Department: fid.Department,
		Serial:     fid.Serial,
	}
	event := eventstream.NewFlowEvent(kind, key, req.WaterLiters)
	if err := h.publisher.PublishEvent(r.Context(), event); err != nil {
		logging.Error().Err(err).Str("key", key.String()).Msg("Flow event publish failed")
		rw.ServiceUnavailable("failed to publish flow event")
		return
	}
	rw.Created(map[string]string{"eventId": event.EventID})
}

// WebSocket upgrades the connection into the realtime hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	tuning := realtime.Tuning{
		SendBuffer:     h.cfg.Realtime.SendBuffer,
		PingPeriod:     h.cfg.Realtime.PingPeriod,
		PongWait:       h.cfg.Realtime.PongWait,
		WriteWait:      h.cfg.Realtime.WriteWait,
		MaxMessageSize: h.cfg.Realtime.MaxMessageSz,
	}
	realtime.NewClient(h.hub, conn, tuning).Start()
}
