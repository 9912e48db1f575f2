package engine

import (
	"context"
	"sync"
)

// mailboxGroup funnels all mutating work for a given coin symbol through a
// single worker goroutine, guaranteeing that open/close/update operations
// on the same symbol never interleave. Different symbols run concurrently.
type mailboxGroup struct {
	mu     sync.Mutex
	boxes  map[string]chan func()
	closed bool
	wg     sync.WaitGroup
}

const mailboxDepth = 64

func newMailboxGroup() *mailboxGroup {
	return &mailboxGroup{boxes: make(map[string]chan func())}
}

// Do runs fn on the symbol's worker and waits for its result. Work for the
// same symbol executes in strict submission order.
func (g *mailboxGroup) Do(ctx context.Context, symbol string, fn func() error) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return context.Canceled
	}
	box, ok := g.boxes[symbol]
	if !ok {
		box = make(chan func(), mailboxDepth)
		g.boxes[symbol] = box
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			for work := range box {
				work()
			}
		}()
	}
	g.mu.Unlock()

	done := make(chan error, 1)
	select {
	case box <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The work already queued will still run to completion; only the
		// caller stops waiting.
		return ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight work to finish.
func (g *mailboxGroup) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for _, box := range g.boxes {
		close(box)
	}
	g.mu.Unlock()
	g.wg.Wait()
}
