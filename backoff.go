package playground

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// RetryPolicy parameterizes the opt-in exponential backoff wrapper around
// connect attempts. Attempt n waits min(BaseDelay·Factor^n, MaxDelay) plus a
// small random jitter; after MaxRetries the error is terminal.
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries" env:"PLAYGROUND_RETRY_MAX,default=3"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"PLAYGROUND_RETRY_BASE_DELAY,default=500ms"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"PLAYGROUND_RETRY_MAX_DELAY,default=30s"`
	Factor     float64       `yaml:"factor" env:"PLAYGROUND_RETRY_FACTOR,default=2"`
	Jitter     time.Duration `yaml:"jitter" env:"PLAYGROUND_RETRY_JITTER,default=100ms"`
}

// delay returns the wait before retrying after the given zero-based attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

// debouncer coalesces rapid repeated triggers within a fixed window into one
// invocation. The first trigger arms the timer; triggers arriving while it is
// armed are absorbed. stop must be called on teardown so no leaked callback
// fires after disposal.
type debouncer struct {
	window time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// trigger schedules fn to run once after the window elapses. It reports
// whether this call armed the timer (false when coalesced into a pending one).
func (d *debouncer) trigger(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		return false
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
	return true
}

// stop cancels any pending invocation.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
