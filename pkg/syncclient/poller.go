package syncclient

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is used when a non-positive interval is given.
const DefaultPollInterval = 5 * time.Second

// Poller invokes a refresh function on a fixed interval. Polling can be
// toggled at runtime (e.g. paused while the window is hidden) without
// stopping the loop.
type Poller struct {
	interval time.Duration
	refresh  func(ctx context.Context)

	mu      sync.Mutex
	enabled bool
}

// NewPoller builds a poller; it does not start until Run is called.
func NewPoller(interval time.Duration, refresh func(ctx context.Context)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{interval: interval, refresh: refresh, enabled: true}
}

// SetEnabled pauses or resumes polling. The loop keeps ticking while paused;
// ticks are simply skipped.
func (p *Poller) SetEnabled(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = v
}

// Enabled reports whether ticks currently trigger a refresh.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Run refreshes immediately, then on every interval tick until the context
// is canceled. It blocks; run it in its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	if p.Enabled() {
		p.refresh(ctx)
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Enabled() {
				p.refresh(ctx)
			}
		}
	}
}
