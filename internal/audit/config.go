package audit

import (
	"log/slog"

	"portalquejas/internal/platform/config"
	"portalquejas/internal/platform/kafka"
	"portalquejas/internal/platform/metrics"
	auditevent "portalquejas/pkg/platform/audit"
	"portalquejas/pkg/platform/audit/publisher"
	"portalquejas/pkg/platform/circuit"
)

// BreakerName labels the broker breaker in logs.
const BreakerName = "audit-broker"

// FromConfig builds the service the CRUD layer uses: background delivery
// through cfg.AsyncBuffer events, READ events kept at cfg.ReadSampleRate and
// a breaker in front of the broker. opts are applied last.
func FromConfig(cfg config.Audit, pub AuditPublisher, opts ...Option) (*Service, error) {
	sampler := NewSampler()
	sampler.SetRate(auditevent.ActionRead, cfg.ReadSampleRate)

	base := []Option{
		WithAsyncBuffer(cfg.AsyncBuffer),
		WithSampler(sampler),
		WithBreaker(circuit.New(BreakerName)),
	}
	return New(pub, append(base, opts...)...)
}

// Open connects FromConfig to a Kafka publisher tagged with cfg.Source.
// Close on the returned service also closes that publisher.
func Open(kcfg kafka.Config, cfg config.Audit, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pub := publisher.New(kcfg,
		publisher.WithLogger(logger),
		publisher.WithMetrics(m),
		publisher.WithSource(cfg.Source),
	)
	s, err := FromConfig(cfg, pub, WithLogger(logger), WithMetrics(m))
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	s.onClose = pub.Close
	return s, nil
}
