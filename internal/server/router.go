package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/auth"
	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/orchestrator"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const operatorContextKey = "hearth_operator"

var (
	errMissingValidator     = errors.New("request validator dependency required")
	errMissingSync          = errors.New("sync trigger dependency required")
	errMissingStatus        = errors.New("sync status dependency required")
	errMissingDiagnostics   = errors.New("diagnostics dependency required")
	errMissingEvents        = errors.New("event store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// RequestValidator authenticates operator requests.
type RequestValidator interface {
	ValidateRequest(r *http.Request) (auth.OperatorClaims, error)
}

// SyncTrigger starts on-demand runs.
type SyncTrigger interface {
	Manual(ctx context.Context) (orchestrator.Status, error)
	Visible(ctx context.Context) (orchestrator.Status, error)
}

// StatusSource exposes the orchestrator's state.
type StatusSource interface {
	LastStatus() orchestrator.Status
	Running() bool
}

// TraceBuffer is the diagnostics ring.
type TraceBuffer interface {
	Dump() []diagnostics.Entry
	Search(query string) []diagnostics.Entry
	SetTrace(enabled bool)
	Tracing() bool
}

// EventEditor is the external edit path into the local store.
type EventEditor interface {
	RangeQuery(ctx context.Context, window calendar.Window) ([]calendar.LocalEvent, error)
	Save(ctx context.Context, event calendar.LocalEvent) (calendar.LocalEvent, error)
	Remove(ctx context.Context, id calendar.EventID) error
}

// ChangeFeed publishes local store changes.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan store.ChangeSignal, func())
}

// Dependencies wires the control API.
type Dependencies struct {
	Validator   RequestValidator
	Sync        SyncTrigger
	Status      StatusSource
	Diagnostics TraceBuffer
	Events      EventEditor
	// IDs issues identifiers for POST /events; defaults to UUIDv7.
	IDs calendar.IDProvider
	// Changes enables GET /events/stream when set.
	Changes           ChangeFeed
	HeartbeatInterval time.Duration
	AllowedOrigins    []string
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router for the control API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Sync == nil {
		return nil, errMissingSync
	}
	if deps.Status == nil {
		return nil, errMissingStatus
	}
	if deps.Diagnostics == nil {
		return nil, errMissingDiagnostics
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := deps.IDs
	if ids == nil {
		ids = calendar.NewUUIDProvider()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		validator:   deps.Validator,
		sync:        deps.Sync,
		status:      deps.Status,
		diagnostics: deps.Diagnostics,
		events:      deps.Events,
		ids:         ids,
		changes:     deps.Changes,
		heartbeat:   heartbeat,
		logger:      logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync", handler.handleSyncNow)
	protected.POST("/sync/visible", handler.handleVisible)
	protected.GET("/sync/status", handler.handleStatus)
	protected.GET("/diagnostics", handler.handleDiagnostics)
	protected.PUT("/diagnostics/trace", handler.handleTrace)
	protected.GET("/events", handler.handleListEvents)
	protected.POST("/events", handler.handleCreateEvent)
	protected.PUT("/events/:id", handler.handleSaveEvent)
	protected.DELETE("/events/:id", handler.handleDeleteEvent)
	if handler.changes != nil {
		protected.GET("/events/stream", handler.handleChangeStream)
	}

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	validator   RequestValidator
	sync        SyncTrigger
	status      StatusSource
	diagnostics TraceBuffer
	events      EventEditor
	ids         calendar.IDProvider
	changes     ChangeFeed
	heartbeat   time.Duration
	logger      *zap.Logger
}

type statusResponsePayload struct {
	Running bool                `json:"running"`
	Last    orchestrator.Status `json:"last"`
}

func (h *httpHandler) handleSyncNow(c *gin.Context) {
	h.respondWithRun(c, h.sync.Manual)
}

func (h *httpHandler) handleVisible(c *gin.Context) {
	h.respondWithRun(c, h.sync.Visible)
}

func (h *httpHandler) respondWithRun(c *gin.Context, run func(context.Context) (orchestrator.Status, error)) {
	status, err := run(c.Request.Context())
	if err != nil {
		h.logger.Error("sync run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	code := http.StatusOK
	if status.State == orchestrator.StateAlreadyRunning {
		code = http.StatusAccepted
	}
	c.JSON(code, status)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponsePayload{Running: h.status.Running(), Last: h.status.LastStatus()})
}

type diagnosticsResponsePayload struct {
	Tracing bool                `json:"tracing"`
	Entries []diagnostics.Entry `json:"entries"`
}

func (h *httpHandler) handleDiagnostics(c *gin.Context) {
	entries := h.diagnostics.Search(c.Query("q"))
	if entries == nil {
		entries = []diagnostics.Entry{}
	}
	c.JSON(http.StatusOK, diagnosticsResponsePayload{Tracing: h.diagnostics.Tracing(), Entries: entries})
}

type traceRequestPayload struct {
	Enabled *bool `json:"enabled"`
}

func (h *httpHandler) handleTrace(c *gin.Context) {
	var request traceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.diagnostics.SetTrace(*request.Enabled)
	h.logger.Info("diagnostics trace toggled",
		zap.Bool("enabled", *request.Enabled),
		zap.String("operator", c.GetString(operatorContextKey)))
	c.JSON(http.StatusOK, gin.H{"tracing": h.diagnostics.Tracing()})
}

type eventPayload struct {
	ID         string                   `json:"id"`
	Title      string                   `json:"title"`
	Start      time.Time                `json:"start"`
	End        time.Time                `json:"end"`
	AllDay     bool                     `json:"allDay"`
	Location   string                   `json:"location,omitempty"`
	Notes      string                   `json:"notes,omitempty"`
	Attendees  []string                 `json:"attendees,omitempty"`
	Tags       []string                 `json:"tags,omitempty"`
	Colour     string                   `json:"colour,omitempty"`
	Recurrence string                   `json:"recurrence,omitempty"`
	Bindings   []calendar.RemoteBinding `json:"bindings,omitempty"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

type eventsResponsePayload struct {
	Events []eventPayload `json:"events"`
}

func newEventPayload(event calendar.LocalEvent) eventPayload {
	return eventPayload{
		ID:         event.ID.String(),
		Title:      event.Title,
		Start:      event.Start,
		End:        event.End,
		AllDay:     event.AllDay,
		Location:   event.Location,
		Notes:      event.Notes,
		Attendees:  event.Attendees,
		Tags:       event.Tags,
		Colour:     event.Colour,
		Recurrence: event.Recurrence,
		Bindings:   event.Bindings,
		UpdatedAt:  event.UpdatedAt,
	}
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	window, err := parseWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window"})
		return
	}
	events, err := h.events.RangeQuery(c.Request.Context(), window)
	if err != nil {
		h.logger.Error("failed to query events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	response := eventsResponsePayload{Events: make([]eventPayload, 0, len(events))}
	for _, event := range events {
		response.Events = append(response.Events, newEventPayload(event))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	id, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("failed to issue event id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id_failed"})
		return
	}
	h.saveEvent(c, id, http.StatusCreated)
}

func (h *httpHandler) handleSaveEvent(c *gin.Context) {
	id, err := calendar.NewEventID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}
	h.saveEvent(c, id, http.StatusOK)
}

// Bindings in the request body are ignored; the store keeps its own.
func (h *httpHandler) saveEvent(c *gin.Context, id calendar.EventID, status int) {
	var request eventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.events.Save(c.Request.Context(), calendar.LocalEvent{
		ID:         id,
		Title:      request.Title,
		Start:      request.Start,
		End:        request.End,
		AllDay:     request.AllDay,
		Location:   request.Location,
		Notes:      request.Notes,
		Attendees:  request.Attendees,
		Tags:       request.Tags,
		Colour:     request.Colour,
		Recurrence: request.Recurrence,
	})
	if errors.Is(err, calendar.ErrInvalidEventTimes) || errors.Is(err, calendar.ErrInvalidEventID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}
	if err != nil {
		h.logger.Error("failed to save event", zap.String("event_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(status, newEventPayload(saved))
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	id, err := calendar.NewEventID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_id"})
		return
	}
	err = h.events.Remove(c.Request.Context(), id)
	if errors.Is(err, store.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete event", zap.String("event_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(operatorContextKey, claims.Subject)
	c.Next()
}

// parseWindow accepts RFC3339 timestamps or unix milliseconds. Missing bounds are open.
func parseWindow(rawStart, rawEnd string) (calendar.Window, error) {
	start, err := parseInstant(rawStart)
	if err != nil {
		return calendar.Window{}, err
	}
	end, err := parseInstant(rawEnd)
	if err != nil {
		return calendar.Window{}, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return calendar.Window{}, calendar.ErrInvalidEventTimes
	}
	return calendar.Window{Start: start, End: end}, nil
}

func parseInstant(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	if millis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
