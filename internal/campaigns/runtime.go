package campaigns

import (
	"context"
	"sync"
	"time"

	"telecom-dialer/internal/calls"
)

// run is the live state of one campaign. Every field is guarded by mu.
type run struct {
	mu sync.Mutex

	c     Campaign
	queue []string
	total int

	attempts []*calls.Attempt          // dispatch order
	inFlight map[string]*calls.Attempt // reserved, dialing, ringing or answered
	trunk    map[string]bool           // attempt ids holding a trunk slot
	failures []DispatchFailure
	resolved map[calls.Status]int // terminal attempts by status

	pumping       bool
	waitSession   bool
	stoppingSince time.Time
}

func newRun(c Campaign) *run {
	return &run{
		c:        c,
		inFlight: map[string]*calls.Attempt{},
		trunk:    map[string]bool{},
		resolved: map[calls.Status]int{},
	}
}

// enqueue appends destinations, dropping duplicates within the batch.
func (r *run) enqueue(batch []string) int {
	seen := make(map[string]struct{}, len(batch))
	n := 0
	for _, d := range batch {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		r.queue = append(r.queue, d)
		n++
	}
	r.total += n
	return n
}

func (r *run) requeueFront(dest string) {
	r.queue = append([]string{dest}, r.queue...)
}

// statsLocked reads the running counters. Only in-flight attempts are
// walked, so the cost is bounded by the campaign's concurrency.
func (r *run) statsLocked() Stats {
	s := Stats{
		Total:     r.total,
		Queued:    len(r.queue),
		InFlight:  len(r.inFlight),
		Busy:      r.resolved[calls.StatusBusy],
		NoAnswer:  r.resolved[calls.StatusNoAnswer],
		Failed:    r.resolved[calls.StatusFailed] + len(r.failures),
		Completed: r.resolved[calls.StatusCompleted],
	}
	for _, a := range r.inFlight {
		if a.Status == calls.StatusAnswered {
			s.Answered++
		}
	}
	return s
}

func (r *run) snapshotLocked() Campaign {
	c := r.c
	c.Variables = cloneVars(r.c.Variables)
	if r.c.StartedAt != nil {
		t := *r.c.StartedAt
		c.StartedAt = &t
	}
	if r.c.FinishedAt != nil {
		t := *r.c.FinishedAt
		c.FinishedAt = &t
	}
	c.Stats = r.statsLocked()
	return c
}

// removeAttempt forgets a reserved attempt that never reached the PBX.
func (r *run) removeAttempt(a *calls.Attempt) {
	delete(r.inFlight, a.ID)
	// The dropped reservation is almost always the newest attempt.
	for i := len(r.attempts) - 1; i >= 0; i-- {
		if r.attempts[i] == a {
			r.attempts = append(r.attempts[:i], r.attempts[i+1:]...)
			break
		}
	}
}

// effects collects the side effects of a locked section so they run after
// the campaign lock is released.
type effects struct {
	campaignChanged bool
	campaign        *Campaign
	inFlight        int

	attempts []calls.Attempt
	failures []DispatchFailure
	release  []string
	kick     bool
}

func (fx *effects) attempt(a *calls.Attempt) {
	fx.attempts = append(fx.attempts, a.Clone())
}

func (e *Engine) sealLocked(r *run, fx *effects) {
	if fx.campaignChanged {
		snap := r.snapshotLocked()
		fx.campaign = &snap
	}
	fx.inFlight = len(r.inFlight)
}

// settleLocked releases everything a terminal attempt was holding.
func (e *Engine) settleLocked(r *run, a *calls.Attempt, fx *effects) {
	if _, ok := r.inFlight[a.ID]; !ok {
		return
	}
	delete(r.inFlight, a.ID)
	if a.Status.IsTerminal() {
		r.resolved[a.Status]++
	}
	if r.trunk[a.ID] {
		delete(r.trunk, a.ID)
		fx.release = append(fx.release, r.c.Trunk)
	}
	e.unindex(a.ID)
	fx.kick = true
	e.checkDoneLocked(r, fx)
}

// dropLocked undoes a reservation whose Originate never reached the PBX.
func (e *Engine) dropLocked(r *run, a *calls.Attempt, fx *effects) {
	r.removeAttempt(a)
	if r.trunk[a.ID] {
		delete(r.trunk, a.ID)
		fx.release = append(fx.release, r.c.Trunk)
	}
	e.unindex(a.ID)
}

// checkDoneLocked finishes a campaign whose work is exhausted: a running
// campaign with nothing queued or in flight completes, a stopping one stops.
func (e *Engine) checkDoneLocked(r *run, fx *effects) {
	if len(r.inFlight) > 0 {
		return
	}
	var next Status
	switch {
	case r.c.Status == StatusRunning && len(r.queue) == 0:
		next = StatusCompleted
	case r.c.Status == StatusStopping:
		next = StatusStopped
	default:
		return
	}
	now := e.clock().UTC()
	e.log.Info("campaign finished", "campaign_id", r.c.ID, "from", r.c.Status, "to", next)
	r.c.Status = next
	r.c.UpdatedAt = now
	r.c.FinishedAt = &now
	fx.campaignChanged = true
}

// apply runs collected effects. It must be called without r.mu held.
func (e *Engine) apply(r *run, fx effects) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), persistTimeout)
	defer cancel()

	for _, trunk := range fx.release {
		if err := e.limiter.Release(ctx, trunk); err != nil {
			e.log.Warn("trunk release failed", "trunk", trunk, "err", err)
		}
	}
	for _, a := range fx.attempts {
		if a.Status.IsTerminal() {
			e.rec.Outcome(a.Status.Outcome())
		}
		if err := e.store.SaveAttempt(ctx, a); err != nil {
			e.log.Warn("attempt persist failed", "attempt_id", a.ID, "err", err)
		}
		if err := e.publisher.PublishAttempt(ctx, a); err != nil {
			e.log.Debug("attempt publish failed", "attempt_id", a.ID, "err", err)
		}
	}
	for _, f := range fx.failures {
		e.rec.Outcome(calls.OutcomeFailed)
		if err := e.store.SaveFailure(ctx, f); err != nil {
			e.log.Warn("dispatch failure persist failed", "campaign_id", f.CampaignID, "err", err)
		}
	}
	if fx.campaign != nil {
		e.persistCampaign(ctx, *fx.campaign)
	}
	e.rec.InFlight(r.c.ID, fx.inFlight)
	if fx.kick {
		e.kick(r)
	}
}

func (e *Engine) persistCampaign(ctx context.Context, c Campaign) {
	if err := e.store.SaveCampaign(ctx, c); err != nil {
		e.log.Warn("campaign persist failed", "campaign_id", c.ID, "err", err)
	}
	if err := e.publisher.PublishCampaign(ctx, c); err != nil {
		e.log.Debug("campaign publish failed", "campaign_id", c.ID, "err", err)
	}
}

// Event routing index. Keys are prefixed by kind so ActionIDs, Uniqueids and
// channel names never collide.

func keyAction(id string) string  { return "a:" + id }
func keyUnique(id string) string  { return "u:" + id }
func keyChannel(ch string) string { return "c:" + ch }

func (e *Engine) bind(r *run, attemptID string, keys ...string) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	for _, k := range keys {
		if len(k) <= 2 {
			continue
		}
		if cur, ok := e.index[k]; ok && cur.attemptID == attemptID {
			continue
		}
		e.index[k] = ref{r: r, attemptID: attemptID}
		e.keys[attemptID] = append(e.keys[attemptID], k)
	}
}

func (e *Engine) unindex(attemptID string) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	for _, k := range e.keys[attemptID] {
		if cur, ok := e.index[k]; ok && cur.attemptID == attemptID {
			delete(e.index, k)
		}
	}
	delete(e.keys, attemptID)
}

// lookup returns the first key that resolves to a pending attempt.
func (e *Engine) lookup(keys ...string) (ref, bool) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	for _, k := range keys {
		if len(k) <= 2 {
			continue
		}
		if found, ok := e.index[k]; ok {
			return found, true
		}
	}
	return ref{}, false
}
