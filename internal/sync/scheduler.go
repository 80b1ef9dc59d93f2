package sync

import (
	"context"
	"time"

	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/connectivity"
)

// Start runs the drain loop: one pass every DrainInterval, one whenever
// RequestDrain is called and one on every offline to online transition.
// Calling Start on a running engine does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.unsubscribe = e.monitor.Subscribe(func(t connectivity.Transition) {
		if t == connectivity.BecameOnline {
			e.RequestDrain()
		}
	})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(ctx, stopCh)

	e.log.Info("sync engine started", logging.Fields{"drain_interval": e.cfg.DrainInterval.String()})
}

// Stop ends the loop and the connectivity subscription, then waits for a
// running pass. Cancel the context given to Start first to abort its
// remote calls.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.unsubscribe()
	e.unsubscribe = nil
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info("sync engine stopped", nil)
}

// Running reports whether Start has been called without a matching Stop.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RequestDrain asks the loop for a pass without waiting for it. Requests
// made while one is already queued collapse into it.
func (e *Engine) RequestDrain() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			e.Drain(ctx)
		case <-e.trigger:
			e.Drain(ctx)
		}
	}
}
