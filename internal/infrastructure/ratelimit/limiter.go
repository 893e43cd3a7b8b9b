package ratelimit

import (
	"sync"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Config struct {
	Window         time.Duration
	MaxRequests    int
	MaxConcurrent  int
	DefaultBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:         60 * time.Second,
		MaxRequests:    60,
		MaxConcurrent:  4,
		DefaultBackoff: 30 * time.Second,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()
	if out.Window <= 0 {
		out.Window = def.Window
	}
	if out.MaxRequests <= 0 {
		out.MaxRequests = def.MaxRequests
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = def.MaxConcurrent
	}
	if out.DefaultBackoff <= 0 {
		out.DefaultBackoff = def.DefaultBackoff
	}
	return out
}

type Option func(*Limiter)

func WithClock(clock Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// Limiter is the process-wide rate state of the reasoning client: a sliding
// window of attempt timestamps, an in-flight counter and a provider backoff
// deadline. All methods are safe for concurrent use.
type Limiter struct {
	cfg   Config
	clock Clock

	mu           sync.Mutex
	timestamps   []time.Time
	active       int
	backoffUntil time.Time
}

func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:   cfg.normalize(),
		clock: systemClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State is a point-in-time snapshot.
type State struct {
	InWindow     int
	Active       int
	BackoffUntil time.Time
}

// Acquire reserves a request slot. The attempt is timestamped immediately so
// that failed and in-flight calls count against the window. The returned
// release func must be called once the call finishes.
func (l *Limiter) Acquire() (func(), error) {
	return l.acquire(true)
}

// AcquireSlot is Acquire without the backoff check, for an alternate provider
// that is not subject to the primary's throttling.
func (l *Limiter) AcquireSlot() (func(), error) {
	return l.acquire(false)
}

func (l *Limiter) acquire(honorBackoff bool) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if honorBackoff && now.Before(l.backoffUntil) {
		return nil, domain.ErrProviderBackedOff
	}
	l.prune(now)
	if len(l.timestamps) >= l.cfg.MaxRequests || l.active >= l.cfg.MaxConcurrent {
		return nil, domain.ErrRateLimitExceeded
	}

	l.timestamps = append(l.timestamps, now)
	l.active++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.active > 0 {
				l.active--
			}
			l.mu.Unlock()
		})
	}, nil
}

func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Before(l.backoffUntil) {
		return false
	}
	l.prune(now)
	return len(l.timestamps) < l.cfg.MaxRequests && l.active < l.cfg.MaxConcurrent
}

func (l *Limiter) BackedOff() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock.Now().Before(l.backoffUntil)
}

// BackOff extends the backoff deadline by d from now, or by the default
// backoff when d is not positive.
func (l *Limiter) BackOff(d time.Duration) time.Time {
	if d <= 0 {
		d = l.cfg.DefaultBackoff
	}
	return l.SetBackoffUntil(l.clock.Now().Add(d))
}

// SetBackoffUntil never shortens an existing deadline.
func (l *Limiter) SetBackoffUntil(deadline time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if deadline.After(l.backoffUntil) {
		l.backoffUntil = deadline
	}
	return l.backoffUntil
}

func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return State{
		InWindow:     len(l.timestamps),
		Active:       l.active,
		BackoffUntil: l.backoffUntil,
	}
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	idx := 0
	for idx < len(l.timestamps) && !l.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[idx:]...)
	}
}
