// Package gate bounds the number of synthesis jobs running at once.
package gate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrServerBusy is returned when every slot is taken
var ErrServerBusy = errors.New("server busy")

// Gate is a non-blocking counting semaphore shared by the whole server
type Gate struct {
	sem      *semaphore.Weighted
	capacity int

	mu       sync.Mutex
	inFlight int
	idle     chan struct{} // closed whenever inFlight is zero
}

// New creates a gate admitting at most capacity concurrent holders
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		idle:     idle,
	}
}

// TryAdmit takes a slot without waiting
func (g *Gate) TryAdmit() (*Permit, error) {
	if !g.sem.TryAcquire(1) {
		return nil, ErrServerBusy
	}
	g.mu.Lock()
	if g.inFlight == 0 {
		g.idle = make(chan struct{})
	}
	g.inFlight++
	g.mu.Unlock()
	return &Permit{gate: g}, nil
}

// Capacity returns the configured number of slots
func (g *Gate) Capacity() int {
	return g.capacity
}

// InFlight returns the number of permits currently held
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Wait blocks until no permit is held or ctx is done.
// Admissions may continue while it waits; it returns at the first moment the gate is empty.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	g.inFlight--
	if g.inFlight == 0 {
		close(g.idle)
	}
	g.mu.Unlock()
	g.sem.Release(1)
}

// Permit is one admitted slot. Release is safe to call more than once.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the slot to the gate; calls after the first do nothing
func (p *Permit) Release() {
	p.once.Do(p.gate.release)
}
