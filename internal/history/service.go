// Package history serves read-only queries over the persisted audit history.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"portalquejas/internal/platform/metrics"
	audit "portalquejas/pkg/platform/audit"
)

// DefaultRecent is the number of newest rows included in Stats.
const DefaultRecent = 10

// Result is one page of history rows.
type Result struct {
	Records []audit.HistoryRecord
	Total   int64
	Limit   int
	Offset  int
}

// HasMore reports whether rows exist past this page.
func (r Result) HasMore() bool {
	return int64(r.Offset+len(r.Records)) < r.Total
}

type Service struct {
	reader  audit.HistoryReader
	cache   StatsCache
	recent  int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStatsCache caches Stats results. A nil cache disables caching.
func WithStatsCache(cache StatsCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithRecent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recent = n
		}
	}
}

func New(reader audit.HistoryReader, opts ...Option) (*Service, error) {
	if reader == nil {
		return nil, fmt.Errorf("history reader is required")
	}
	s := &Service{
		reader: reader,
		recent: DefaultRecent,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns one page of rows matching filter, newest first. An empty
// history is an empty page, not an error.
func (s *Service) List(ctx context.Context, filter audit.Filter, page audit.Page) (Result, error) {
	s.metrics.IncHistoryQuery("list")
	page = page.Normalize()

	records, total, err := s.reader.List(ctx, filter, page)
	if err != nil {
		return Result{}, fmt.Errorf("list history: %w", err)
	}
	if records == nil {
		records = []audit.HistoryRecord{}
	}
	return Result{Records: records, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Stats aggregates the history table. Results may be served from the cache
// for up to its TTL; cache failures fall through to the store.
func (s *Service) Stats(ctx context.Context) (audit.Summary, error) {
	s.metrics.IncHistoryQuery("stats")

	if s.cache != nil {
		summary, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.metrics.IncStatsCache("error")
			s.logger.WarnContext(ctx, "history stats cache read failed", "error", err)
		case ok:
			s.metrics.IncStatsCache("hit")
			return summary, nil
		default:
			s.metrics.IncStatsCache("miss")
		}
	}

	summary, err := s.reader.Summary(ctx, s.recent)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("summarize history: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, summary); err != nil {
			s.logger.WarnContext(ctx, "history stats cache write failed", "error", err)
		}
	}
	return summary, nil
}
