package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval   = 5 * time.Second  // Re-price every 5 seconds
	MinPollInterval       = 1 * time.Second  // Minimum interval to avoid rate limiting
	DefaultRequestTimeout = 10 * time.Second // Upper bound for a single quote request
)

// Poller re-prices the engine's current inputs on a fixed interval
type Poller struct {
	engine         *Engine
	interval       time.Duration
	requestTimeout time.Duration
	logger         *zap.Logger

	// OnUpdate is called after every refresh with the resulting state
	OnUpdate func(State)

	running  bool
	stopChan chan struct{}
	mu       sync.RWMutex
}

// NewPoller creates a poller over engine
func NewPoller(engine *Engine, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		engine:         engine,
		interval:       DefaultPollInterval,
		requestTimeout: DefaultRequestTimeout,
		logger:         logger,
	}
}

// SetInterval sets the refresh interval
func (p *Poller) SetInterval(interval time.Duration) {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	p.mu.Lock()
	p.interval = interval
	p.mu.Unlock()
}

// SetRequestTimeout bounds each refresh
func (p *Poller) SetRequestTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	p.mu.Lock()
	p.requestTimeout = timeout
	p.mu.Unlock()
}

// Running reports whether Run is active
func (p *Poller) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Run refreshes immediately, then on every tick until ctx is done or Stop is called
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller is already running")
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	interval := p.interval
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop ends a running Run
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stopChan == nil {
		return
	}
	close(p.stopChan)
	p.stopChan = nil
}

func (p *Poller) tick(ctx context.Context) {
	p.mu.RLock()
	timeout := p.requestTimeout
	p.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.engine.Refresh(reqCtx); err != nil {
		p.logger.Debug("quote refresh failed", zap.Error(err))
	}
	if p.OnUpdate != nil {
		p.OnUpdate(p.engine.State())
	}
}
