package campaigns

import (
	"context"
	"log/slog"
	"time"

	"telecom-dialer/internal/calls"
)

const DefaultWatchdogInterval = time.Second

// Watchdog periodically sweeps the engine for attempts the PBX never resolved.
type Watchdog struct {
	Engine   *Engine
	Interval time.Duration
	Log      *slog.Logger
}

// Run sweeps on every tick until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	log := w.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("watchdog started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("watchdog stopped")
			return nil
		case <-ticker.C:
			w.Engine.Sweep(ctx, w.Engine.clock())
		}
	}
}

// Sweep is one watchdog pass:
// - retry a pending reconciliation once the session is back;
// - fail unanswered attempts silent for longer than call timeout plus grace;
// - force-resolve a stopping campaign's attempts once its grace has run out;
// - restart pumps parked by a busy trunk or a lost session.
func (e *Engine) Sweep(ctx context.Context, now time.Time) {
	now = now.UTC()
	if e.pendingReconcile.Load() && e.online.Load() {
		if err := e.Reconcile(ctx); err != nil {
			e.log.Warn("reconcile retry failed", "err", err)
		}
	}
	online := e.online.Load()

	for _, r := range e.runs() {
		var fx effects
		r.mu.Lock()
		limit := r.c.CallTimeout() + e.grace
		for _, a := range r.inFlight {
			if a.Status == calls.StatusQueued || a.Status == calls.StatusAnswered || a.ConnectionLost {
				continue
			}
			if now.Sub(silentSince(a)) <= limit {
				continue
			}
			e.log.Warn("attempt silent past call timeout", "campaign_id", r.c.ID, "attempt_id", a.ID,
				"destination", a.Destination, "status", a.Status, "last_event_at", a.LastEventAt)
			a.Fail(calls.CauseNoResponse, now)
			fx.attempt(a)
			e.settleLocked(r, a, &fx)
			fx.campaignChanged = true
		}

		if r.c.Status == StatusStopping && now.Sub(r.stoppingSince) > e.grace {
			for _, a := range r.inFlight {
				if a.Status == calls.StatusQueued {
					continue
				}
				a.Resolve(calls.CauseStopped, now)
				fx.attempt(a)
				e.settleLocked(r, a, &fx)
				fx.campaignChanged = true
			}
		}

		if online && r.waitSession {
			r.waitSession = false
		}
		e.checkDoneLocked(r, &fx)
		if online && r.c.Status == StatusRunning && !r.pumping && len(r.queue) > 0 {
			fx.kick = true
		}
		e.sealLocked(r, &fx)
		r.mu.Unlock()
		e.apply(r, fx)
	}
}

// silentSince is when the PBX last said anything about a.
func silentSince(a *calls.Attempt) time.Time {
	if a.LastEventAt.After(a.StartedAt) {
		return a.LastEventAt
	}
	return a.StartedAt
}
