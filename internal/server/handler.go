package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "eltpulse/internal/errors"
	"eltpulse/internal/pipeline"
	"eltpulse/pkg/contracts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The demo broadcaster accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the broadcaster's HTTP API: dataset listing, execution
// control, recovery, and the websocket endpoint.
type Handler struct {
	engine      *pipeline.Engine
	coordinator *pipeline.Coordinator
	hub         *Hub
	logger      *slog.Logger
}

// NewHandler creates a handler wired to the engine, coordinator, and hub.
func NewHandler(engine *pipeline.Engine, coordinator *pipeline.Coordinator, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:      engine,
		coordinator: coordinator,
		hub:         hub,
		logger:      logger.With(slog.String("handler", "api")),
	}
}

// Routes builds the chi router for the broadcaster.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.WebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/datasets", h.ListDatasets)
		r.Route("/elt", func(r chi.Router) {
			r.Post("/execute", h.Execute)
			r.Post("/cancel", h.Cancel)
			r.Get("/status/{id}", h.Status)
			r.Get("/history", h.History)
			r.Route("/recovery/{id}", func(r chi.Router) {
				r.Get("/options", h.RecoveryOptions)
				r.Post("/apply", h.ApplyRecovery)
			})
		})
	})

	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":  "healthy",
		"version": contracts.Version,
		"clients": h.hub.ClientCount(),
	})
}

// WebSocket upgrades the request and attaches the client to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	ServeWS(h.hub, conn, h.logger)
}

// ListDatasets returns the catalog's dataset summaries.
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	type summary struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		RecordCount int      `json:"recordCount"`
		Fields      []string `json:"fields"`
	}

	datasets := h.engine.Catalog().List()
	out := make([]summary, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, summary{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			RecordCount: len(ds.Records),
			Fields:      ds.Fields(),
		})
	}
	render.JSON(w, r, map[string]interface{}{"datasets": out})
}

// ExecuteRequest starts a pipeline execution.
type ExecuteRequest struct {
	DatasetID string `json:"datasetId"`
	Timeout   string `json:"timeout,omitempty"`
	Retries   int    `json:"retries,omitempty"`
}

// Bind implements the render.Binder interface for request validation.
func (req *ExecuteRequest) Bind(r *http.Request) error {
	if req.DatasetID == "" {
		return errors.New("datasetId is required")
	}
	if req.Timeout != "" {
		if _, err := time.ParseDuration(req.Timeout); err != nil {
			return errors.New("invalid timeout format")
		}
	}
	if req.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	return nil
}

// Execute runs the pipeline synchronously and returns the terminal
// execution state.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	req := &ExecuteRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.ErrValidation("body", err.Error()))
		return
	}

	cfg := &pipeline.ExecutionConfig{RetryAttempts: req.Retries}
	if req.Timeout != "" {
		cfg.Timeout, _ = time.ParseDuration(req.Timeout)
	}

	start := time.Now()
	exec, err := h.engine.Execute(r.Context(), req.DatasetID, cfg)
	if exec != nil {
		executionsTotal.WithLabelValues(string(exec.GetStatus())).Inc()
		executionDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil && exec == nil {
		render.Render(w, r, h.renderPipelineError(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, exec.Clone())
}

// Cancel stops the running execution.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Cancel(); err != nil {
		render.Render(w, r, h.renderPipelineError(err))
		return
	}
	render.JSON(w, r, map[string]string{"status": "cancelling"})
}

// Status returns the execution with the given ID.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, ok := h.engine.Get(id)
	if !ok {
		render.Render(w, r, apierrors.NotFoundError("execution "+id))
		return
	}
	render.JSON(w, r, exec.Clone())
}

// History returns all recorded executions, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	history := h.engine.History()
	out := make([]*pipeline.Execution, 0, len(history))
	for _, exec := range history {
		out = append(out, exec.Clone())
	}
	render.JSON(w, r, map[string]interface{}{"executions": out})
}

// RecoveryOptions lists strategies applicable to a failed execution.
func (h *Handler) RecoveryOptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, err := h.coordinator.Options(id)
	if err != nil {
		render.Render(w, r, h.renderPipelineError(err))
		return
	}
	render.JSON(w, r, map[string]interface{}{"options": opts})
}

// RecoveryRequest selects a recovery strategy.
type RecoveryRequest struct {
	Strategy string `json:"strategy"`
}

// Bind implements the render.Binder interface.
func (req *RecoveryRequest) Bind(r *http.Request) error {
	switch pipeline.RecoveryStrategy(req.Strategy) {
	case pipeline.RecoveryRetry, pipeline.RecoverySkip, pipeline.RecoveryRestart:
		return nil
	}
	return errors.New("strategy must be retry, skip, or restart")
}

// ApplyRecovery applies the chosen strategy and returns the resulting
// execution state.
func (h *Handler) ApplyRecovery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := &RecoveryRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.ErrValidation("strategy", err.Error()))
		return
	}

	exec, err := h.coordinator.Apply(r.Context(), id, pipeline.RecoveryStrategy(req.Strategy))
	if err != nil && exec == nil {
		render.Render(w, r, h.renderPipelineError(err))
		return
	}
	render.JSON(w, r, exec.Clone())
}

// renderPipelineError maps pipeline error kinds onto HTTP status codes.
func (h *Handler) renderPipelineError(err error) *apierrors.APIError {
	switch pipeline.KindOf(err) {
	case pipeline.ErrorKindNotFound:
		return apierrors.NotFoundError(err.Error())
	case pipeline.ErrorKindInvalidInput, pipeline.ErrorKindValidation:
		return apierrors.ErrValidation("", err.Error())
	case pipeline.ErrorKindConflict:
		return apierrors.ConflictError(err.Error())
	default:
		return apierrors.ExecutionFailedError(err)
	}
}
