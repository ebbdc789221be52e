package kafka

import "time"

// RetryPolicy is the exponential backoff shared by every client handle.
type RetryPolicy struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	MaxRetries     int
}

// DefaultRetryPolicy starts at 100ms, doubles, caps at 30s and gives up
// after 8 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     30 * time.Second,
		MaxRetries:     8,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	return p
}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return time.Duration(backoff)
}
