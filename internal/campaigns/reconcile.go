package campaigns

import (
	"context"
	"fmt"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/telephony"
)

// MarkConnectionLost flags every attempt already handed to the PBX as having
// an unknown outcome and holds dispatch until Restore. It returns how many
// attempts were flagged.
func (e *Engine) MarkConnectionLost() int {
	e.online.Store(false)
	flagged := 0
	for _, r := range e.runs() {
		var fx effects
		r.mu.Lock()
		for _, a := range r.inFlight {
			if a.Status == calls.StatusQueued || a.ConnectionLost {
				continue
			}
			a.ConnectionLost = true
			fx.attempt(a)
			flagged++
		}
		e.sealLocked(r, &fx)
		r.mu.Unlock()
		e.apply(r, fx)
	}
	if flagged > 0 {
		e.pendingReconcile.Store(true)
	}
	e.log.Warn("manager connection lost", "flagged_attempts", flagged)
	return flagged
}

// Restore reconciles flagged attempts against the PBX and resumes dispatch.
// A failed reconciliation is retried by the watchdog.
func (e *Engine) Restore(ctx context.Context) {
	if err := e.Reconcile(ctx); err != nil {
		e.log.Warn("reconcile failed, will retry", "err", err)
	}
	e.online.Store(true)
	e.resume()
	e.log.Info("dispatch resumed")
}

// Reconcile asks the PBX which channels are still live. Flagged attempts with
// a live channel are unflagged and keep running; the rest can never report an
// outcome and are failed with cause connection-lost.
func (e *Engine) Reconcile(ctx context.Context) error {
	if !e.hasFlagged() {
		e.pendingReconcile.Store(false)
		return nil
	}
	channels, err := e.dialer.ListActiveChannels(ctx)
	if err != nil {
		e.pendingReconcile.Store(true)
		return fmt.Errorf("list active channels: %w", err)
	}
	live := make(map[string]telephony.ChannelSnapshot, len(channels)*2)
	for _, ch := range channels {
		if ch.UniqueID != "" {
			live[keyUnique(ch.UniqueID)] = ch
		}
		if ch.Channel != "" {
			live[keyChannel(ch.Channel)] = ch
		}
	}

	now := e.clock().UTC()
	kept, failed := 0, 0
	for _, r := range e.runs() {
		var fx effects
		r.mu.Lock()
		for _, a := range r.inFlight {
			if !a.ConnectionLost {
				continue
			}
			ch, ok := live[keyUnique(a.UniqueID)]
			if !ok && a.Channel != "" {
				ch, ok = live[keyChannel(a.Channel)]
			}
			if ok {
				a.ConnectionLost = false
				e.bindChannelLocked(r, a, ch.UniqueID, ch.Channel)
				if ch.IsUp() {
					a.Answer(now)
				}
				a.Touch(now)
				fx.attempt(a)
				kept++
				continue
			}
			a.Fail(calls.CauseConnectionLost, now)
			fx.attempt(a)
			e.settleLocked(r, a, &fx)
			fx.campaignChanged = true
			failed++
		}
		e.sealLocked(r, &fx)
		r.mu.Unlock()
		e.apply(r, fx)
	}
	e.pendingReconcile.Store(false)
	e.log.Info("reconciled in-flight attempts", "live", kept, "failed", failed, "channels", len(channels))
	return nil
}

func (e *Engine) hasFlagged() bool {
	for _, r := range e.runs() {
		r.mu.Lock()
		for _, a := range r.inFlight {
			if a.ConnectionLost {
				r.mu.Unlock()
				return true
			}
		}
		r.mu.Unlock()
	}
	return false
}

// resume unparks campaigns held back by a connection error.
func (e *Engine) resume() {
	for _, r := range e.runs() {
		r.mu.Lock()
		r.waitSession = false
		running := r.c.Status == StatusRunning
		r.mu.Unlock()
		if running {
			e.kick(r)
		}
	}
}
