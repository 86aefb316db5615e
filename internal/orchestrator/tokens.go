package orchestrator

import (
	"context"
	"sync"
)

// PauseToken lets a host suspend the cycle loop between inferences. The
// loop calls Wait at the top of each item iteration; Pause arms the gate,
// Resume releases every waiter.
type PauseToken struct {
	mu     sync.Mutex
	gate   chan struct{}
	paused bool
}

// NewPauseToken creates a released token.
func NewPauseToken() *PauseToken {
	return &PauseToken{}
}

// Pause arms the gate. Idempotent.
func (p *PauseToken) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.gate = make(chan struct{})
	}
}

// Resume releases the gate. Idempotent.
func (p *PauseToken) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		close(p.gate)
	}
}

// Paused reports whether the gate is armed.
func (p *PauseToken) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait blocks while paused; returns the context error on cancellation.
func (p *PauseToken) Wait(ctx context.Context) error {
	p.mu.Lock()
	gate := p.gate
	paused := p.paused
	p.mu.Unlock()
	if !paused {
		return ctx.Err()
	}
	select {
	case <-gate:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
