package inference

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 30 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// Factory opens one new Runner.
type Factory func() (Runner, error)

type SessionPool struct {
	sessions    chan Runner
	size        int
	factory     Factory
	timeout     time.Duration
	clock       clock.Clock
	checkPeriod time.Duration
	done        chan struct{}
	mu          sync.Mutex
	closed      bool
	metrics     *PoolMetrics
	lastErrors  []error
}

// PoolOption customizes a SessionPool.
type PoolOption func(*SessionPool)

// WithClock drives the health check from clk.
func WithClock(clk clock.Clock) PoolOption {
	return func(p *SessionPool) { p.clock = clk }
}

// WithHealthCheckPeriod overrides HealthCheckPeriod.
func WithHealthCheckPeriod(d time.Duration) PoolOption {
	return func(p *SessionPool) {
		if d > 0 {
			p.checkPeriod = d
		}
	}
}

type PoolMetrics struct {
	mu              sync.RWMutex
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	TotalDiscarded  int64
	AcquireFailures int64
	WaitTime        time.Duration
}

// PoolStats is a point-in-time copy of PoolMetrics.
type PoolStats struct {
	PoolSize        int           `json:"pool_size"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewSessionPool eagerly opens size sessions. Any failure tears down the
// sessions opened so far and is returned to the caller. A background health
// check reopens sessions lost to failed replacements until Destroy.
func NewSessionPool(factory Factory, size int, opts ...PoolOption) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool{
		sessions:    make(chan Runner, size),
		size:        size,
		factory:     factory,
		timeout:     AcquireTimeout,
		clock:       clock.New(),
		checkPeriod: HealthCheckPeriod,
		done:        make(chan struct{}),
		metrics:     &PoolMetrics{},
	}
	for _, opt := range opts {
		opt(pool)
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			return nil, multierr.Append(
				errors.Wrapf(err, "failed to initialize session %d", i),
				pool.Destroy(),
			)
		}
		pool.sessions <- session
	}

	// The ticker is created here so a mock clock sees it before the first Add.
	go pool.healthCheck(pool.clock.Ticker(pool.checkPeriod))

	return pool, nil
}

func (p *SessionPool) Size() int { return p.size }

// SetAcquireTimeout overrides AcquireTimeout.
func (p *SessionPool) SetAcquireTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

func (p *SessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool) Acquire(ctx context.Context) (Runner, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.AcquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	select {
	case p.sessions <- session:
	default:
		session.Destroy()
	}
}

// Discard destroys a session that failed in a way that may have left it
// unusable and opens a replacement in its place.
func (p *SessionPool) Discard(session Runner) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalDiscarded++
	p.metrics.mu.Unlock()

	if err := session.Destroy(); err != nil {
		p.recordError(err)
	}
	p.replenishSessions(1)
}

func (p *SessionPool) replenishSessions(count int) {
	for i := 0; i < count; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		select {
		case p.sessions <- session:
			p.mu.Unlock()
		default:
			// a concurrent refill already filled the pool
			p.mu.Unlock()
			session.Destroy()
			return
		}
	}
}

func (p *SessionPool) healthCheck(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if missing := p.deficit(); missing > 0 {
				p.replenishSessions(missing)
			}
		}
	}
}

// deficit counts sessions that are neither idle nor checked out.
func (p *SessionPool) deficit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	p.metrics.mu.RLock()
	inUse := p.metrics.InUse
	p.metrics.mu.RUnlock()

	return p.size - len(p.sessions) - inUse
}

func (p *SessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// LastErrors returns the most recent replenish/teardown errors.
func (p *SessionPool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]error, len(p.lastErrors))
	copy(out, p.lastErrors)
	return out
}

func (p *SessionPool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	var err error
	for session := range p.sessions {
		err = multierr.Append(err, session.Destroy())
	}
	return err
}

// Metrics returns a snapshot safe to serialize.
func (p *SessionPool) Metrics() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		PoolSize:        p.size,
		InUse:           p.metrics.InUse,
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalReleased:   p.metrics.TotalReleased,
		TotalDiscarded:  p.metrics.TotalDiscarded,
		AcquireFailures: p.metrics.AcquireFailures,
		WaitTime:        p.metrics.WaitTime,
	}
}
