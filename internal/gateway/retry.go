package gateway

import (
	"fmt"
	"time"
)

// Default retry settings, used when retries are enabled without explicit
// backoff values.
const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	defaultMultiplier     = 1.5
)

// RetryPolicy controls how GET and SET calls react to a timeout.
//
// The zero value performs exactly one send per call and reports ErrTimeout
// when no response arrives. With MaxRetries > 0 a timed-out request is sent
// again with a fresh sequence number after an exponentially growing pause.
// Device rejections are never retried.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `yaml:"max_retries"`

	// InitialBackoff is the pause before the first retry. Default: 200ms.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// Multiplier scales the pause after each retry. Default: 1.5.
	Multiplier float64 `yaml:"multiplier"`

	// MaxBackoff caps the pause. Default: 2 seconds.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidConfig)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("%w: backoff must be >= 0", ErrInvalidConfig)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// withDefaults fills unset backoff fields.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialBackoff == 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaultMultiplier
	}
	return p
}

// Backoff returns the pause before retry number n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	d := float64(p.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}
