package audit

import (
	"math/rand/v2"
	"sync"

	auditevent "portalquejas/pkg/platform/audit"
)

// Sampler keeps a fraction of high-volume audit events. Actions without an
// explicit rate are always kept.
type Sampler struct {
	mu           sync.RWMutex
	rateByAction map[auditevent.ActionKind]float64
	random       func() float64
}

// NewSampler returns a sampler that keeps every event.
func NewSampler() *Sampler {
	return &Sampler{
		rateByAction: make(map[auditevent.ActionKind]float64),
		random:       rand.Float64,
	}
}

// SetRate sets the kept fraction for action, clamped to [0, 1].
func (s *Sampler) SetRate(action auditevent.ActionKind, rate float64) {
	rate = min(max(rate, 0), 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = rate
}

// Keep reports whether an event with action should be published.
func (s *Sampler) Keep(action auditevent.ActionKind) bool {
	s.mu.RLock()
	rate, ok := s.rateByAction[action]
	s.mu.RUnlock()
	switch {
	case !ok || rate >= 1:
		return true
	case rate <= 0:
		return false
	}
	return s.random() < rate //nolint:gosec // sampling doesn't need crypto rand
}
