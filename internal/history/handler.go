package history

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"portalquejas/internal/platform/kafka/consumer"
	dErrors "portalquejas/pkg/domain-errors"
	audit "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/httputil"
	"portalquejas/pkg/requestcontext"
)

// Querier is the read side used by the handler.
type Querier interface {
	List(ctx context.Context, filter audit.Filter, page audit.Page) (Result, error)
	Stats(ctx context.Context) (audit.Summary, error)
}

// ConsumerMonitor reports the history writer's state.
type ConsumerMonitor interface {
	State() consumer.State
	Stats() consumer.Stats
}

// Handler serves the history API.
type Handler struct {
	history Querier
	monitor ConsumerMonitor
	logger  *slog.Logger
	guards  []func(http.Handler) http.Handler
}

type HandlerOption func(*Handler)

// WithConsumerMonitor enables GET /api/historial/consumer.
func WithConsumerMonitor(m ConsumerMonitor) HandlerOption {
	return func(h *Handler) {
		h.monitor = m
	}
}

// WithGuards adds middleware in front of every history route, typically
// authentication and role checks.
func WithGuards(guards ...func(http.Handler) http.Handler) HandlerOption {
	return func(h *Handler) {
		h.guards = append(h.guards, guards...)
	}
}

func NewHandler(history Querier, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{history: history, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the history routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/historial", func(r chi.Router) {
		for _, guard := range h.guards {
			r.Use(guard)
		}
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		if h.monitor != nil {
			r.Get("/consumer", h.handleConsumer)
		}
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	filter, page, err := parseQuery(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid history query",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.history.List(ctx, filter, page)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list history",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list history"))
		return
	}

	h.logger.DebugContext(ctx, "history page served",
		"request_id", requestID,
		"total", res.Total,
		"returned", len(res.Records),
		"elapsed", time.Since(requestcontext.Now(ctx)),
	)
	httputil.WriteJSON(w, http.StatusOK, toListResponse(res))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := h.history.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to summarize history",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history stats"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toStatsResponse(summary))
}

func (h *Handler) handleConsumer(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, ConsumerResponse{
		State: h.monitor.State().String(),
		Stats: h.monitor.Stats(),
	})
}

// parseQuery reads filters and paging from the query string. Dates accept
// RFC 3339 or YYYY-MM-DD; a date-only upper bound covers the whole day.
func parseQuery(r *http.Request) (audit.Filter, audit.Page, error) {
	q := r.URL.Query()
	var (
		filter audit.Filter
		page   audit.Page
		err    error
	)

	if raw := q.Get("tipo_accion"); raw != "" {
		action, ok := audit.ParseActionKind(raw)
		if !ok {
			return filter, page, dErrors.New(dErrors.CodeValidation, "tipo_accion must be one of CREATE, READ, UPDATE, DELETE")
		}
		filter.Action = action
	}
	if raw := strings.TrimSpace(q.Get("entidad")); raw != "" {
		filter.Entity = audit.Entity(strings.ToLower(raw))
	}
	if raw := q.Get("registro_id"); raw != "" {
		if filter.RecordID, err = strconv.ParseInt(raw, 10, 64); err != nil || filter.RecordID <= 0 {
			return filter, page, dErrors.New(dErrors.CodeValidation, "registro_id must be a positive integer")
		}
	}
	filter.Actor = strings.TrimSpace(q.Get("usuario"))
	if filter.From, err = parseDate(q.Get("fecha_desde"), false); err != nil {
		return filter, page, dErrors.New(dErrors.CodeValidation, "fecha_desde must be RFC 3339 or YYYY-MM-DD")
	}
	if filter.To, err = parseDate(q.Get("fecha_hasta"), true); err != nil {
		return filter, page, dErrors.New(dErrors.CodeValidation, "fecha_hasta must be RFC 3339 or YYYY-MM-DD")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, page, dErrors.New(dErrors.CodeValidation, "fecha_hasta must not be before fecha_desde")
	}

	if raw := q.Get("limit"); raw != "" {
		if page.Limit, err = strconv.Atoi(raw); err != nil || page.Limit < 1 {
			return filter, page, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if page.Offset, err = strconv.Atoi(raw); err != nil || page.Offset < 0 {
			return filter, page, dErrors.New(dErrors.CodeValidation, "offset must be a non-negative integer")
		}
	}
	return filter, page, nil
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
