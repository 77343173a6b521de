package campaigns

import (
	"context"
	"errors"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/telephony"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const hangupParallelism = 16

// kick starts the campaign's dispatch pump unless one is already running.
func (e *Engine) kick(r *run) {
	r.mu.Lock()
	if r.pumping {
		r.mu.Unlock()
		return
	}
	r.pumping = true
	r.mu.Unlock()

	if !e.spawn(func() { e.pump(r) }) {
		r.mu.Lock()
		r.pumping = false
		r.mu.Unlock()
	}
}

// pump dispatches queued destinations while the campaign is running and has
// free concurrency. Reservation happens under the campaign lock, so in-flight
// never exceeds Concurrency however many pumps are kicked.
func (e *Engine) pump(r *run) {
	for {
		r.mu.Lock()
		a, req, ok := e.reserveLocked(r)
		if !ok {
			var fx effects
			r.pumping = false
			e.checkDoneLocked(r, &fx)
			e.sealLocked(r, &fx)
			r.mu.Unlock()
			e.apply(r, fx)
			return
		}
		trunk := r.c.Trunk
		r.mu.Unlock()

		if !e.acquireTrunk(r, a, trunk) {
			return
		}

		res, err := e.dialer.Originate(e.ctx, req)
		if !e.dispatched(r, a, res, err) {
			return
		}
	}
}

// reserveLocked pops the queue head and records a provisional attempt so the
// concurrency slot and event routing exist before the Originate is written.
func (e *Engine) reserveLocked(r *run) (*calls.Attempt, telephony.OriginateRequest, bool) {
	if r.c.Status != StatusRunning || r.waitSession || !e.online.Load() || e.ctx.Err() != nil {
		return nil, telephony.OriginateRequest{}, false
	}
	if len(r.queue) == 0 || len(r.inFlight) >= r.c.Concurrency {
		return nil, telephony.OriginateRequest{}, false
	}
	dest := r.queue[0]
	r.queue = r.queue[1:]

	now := e.clock().UTC()
	a := &calls.Attempt{
		ID:          uuid.NewString(),
		TenantID:    r.c.TenantID,
		CampaignID:  r.c.ID,
		Destination: dest,
		ActionID:    uuid.NewString(),
		UniqueID:    uuid.NewString(),
		Status:      calls.StatusQueued,
		StartedAt:   now,
		LastEventAt: now,
		Variables:   attemptVars(r.c, dest),
	}
	r.inFlight[a.ID] = a
	r.attempts = append(r.attempts, a)
	e.bind(r, a.ID, keyAction(a.ActionID), keyUnique(a.UniqueID))

	req := telephony.OriginateRequest{
		ActionID:  a.ActionID,
		ChannelID: a.UniqueID,
		Channel:   telephony.ChannelFor(r.c.Trunk, dest),
		Extension: r.c.Extension,
		Context:   r.c.DialContext,
		Priority:  r.c.Priority,
		CallerID:  r.c.CallerID,
		Timeout:   r.c.CallTimeout(),
		Variables: a.Variables,
	}
	return a, req, true
}

// acquireTrunk takes a trunk slot for a reserved attempt. A denied slot puts
// the destination back at the head of the queue and parks the pump until the
// watchdog's next tick. Limiter errors fail open.
func (e *Engine) acquireTrunk(r *run, a *calls.Attempt, trunk string) bool {
	ok, err := e.limiter.Acquire(e.ctx, trunk)
	if err != nil {
		e.log.Warn("trunk limiter unavailable, dialing without cap", "trunk", trunk, "err", err)
	}
	held := err == nil && ok
	denied := err == nil && !ok

	var fx effects
	r.mu.Lock()
	defer func() {
		e.sealLocked(r, &fx)
		r.mu.Unlock()
		e.apply(r, fx)
	}()
	if denied {
		if a.Status == calls.StatusQueued {
			e.dropLocked(r, a, &fx)
			r.requeueFront(a.Destination)
		}
		r.pumping = false
		e.rec.Dispatch(DispatchTrunkBusy)
		e.log.Debug("trunk at capacity", "campaign_id", r.c.ID, "trunk", trunk)
		return false
	}
	if held {
		if _, pending := r.inFlight[a.ID]; pending {
			r.trunk[a.ID] = true
		} else {
			fx.release = append(fx.release, trunk)
		}
	}
	return true
}

// dispatched applies an Originate result. It reports whether the pump should
// continue with the next destination.
func (e *Engine) dispatched(r *run, a *calls.Attempt, res telephony.OriginateResult, err error) bool {
	now := e.clock().UTC()
	var fx effects
	r.mu.Lock()
	defer func() {
		e.sealLocked(r, &fx)
		r.mu.Unlock()
		e.apply(r, fx)
	}()

	switch {
	case telephony.IsUnacknowledged(err):
		// The PBX may already be dialing; reconcile decides, never a redial.
		if a.Status == calls.StatusQueued {
			_ = a.Dial(a.ActionID, a.UniqueID, now)
		}
		if !a.Status.IsTerminal() && !a.ConnectionLost {
			a.ConnectionLost = true
			fx.attempt(a)
			e.pendingReconcile.Store(true)
			e.log.Warn("originate unacknowledged before disconnect, awaiting reconcile",
				"campaign_id", r.c.ID, "attempt_id", a.ID, "destination", a.Destination)
		}
		r.waitSession = true
		r.pumping = false
		e.rec.Dispatch(DispatchConnectionError)
		return false

	case e.ctx.Err() != nil || telephony.IsConnectionError(err):
		// The request never left; the destination goes back to the head.
		if a.Status == calls.StatusQueued {
			e.dropLocked(r, a, &fx)
			r.requeueFront(a.Destination)
			r.waitSession = true
			e.log.Warn("originate not delivered, parking campaign until the session is back",
				"campaign_id", r.c.ID, "destination", a.Destination, "err", err)
		}
		r.pumping = false
		e.rec.Dispatch(DispatchConnectionError)
		return false

	case err == nil || errors.Is(err, telephony.ErrAckTimeout):
		result := DispatchAccepted
		if err != nil {
			result = DispatchAckTimeout
			e.log.Warn("originate acknowledgement timed out, awaiting events",
				"campaign_id", r.c.ID, "attempt_id", a.ID, "action_id", a.ActionID)
		}
		e.rec.Dispatch(result)
		if a.Status.IsTerminal() {
			return true
		}
		if a.Status == calls.StatusQueued {
			uid := a.UniqueID
			if res.ChannelID != "" {
				uid = res.ChannelID
			}
			_ = a.Dial(a.ActionID, uid, now)
			e.bind(r, a.ID, keyUnique(uid))
			fx.attempt(a)
		}
		if r.c.Status == StatusStopping {
			if t := hangupTarget(a); t != "" {
				id := r.c.ID
				e.spawn(func() { e.hangupAll(context.WithoutCancel(e.ctx), id, []string{t}) })
			}
		}
		return true

	default:
		e.rec.Dispatch(DispatchRejected)
		if a.Status != calls.StatusQueued {
			return true
		}
		e.dropLocked(r, a, &fx)
		f := DispatchFailure{TenantID: r.c.TenantID, CampaignID: r.c.ID, Destination: a.Destination, Reason: err.Error(), At: now}
		r.failures = append(r.failures, f)
		fx.failures = append(fx.failures, f)
		e.log.Info("originate rejected", "campaign_id", r.c.ID, "destination", a.Destination, "err", err)
		return true
	}
}

func attemptVars(c Campaign, dest string) map[string]string {
	vars := make(map[string]string, len(c.Variables)+4)
	for k, v := range c.Variables {
		vars[k] = v
	}
	vars["CAMPAIGN_ID"] = c.ID
	vars["DESTINATION"] = dest
	if c.ScriptRef != "" {
		vars["SCRIPT_REF"] = c.ScriptRef
	}
	return vars
}

// hangupTarget names the channel to hang up, falling back to the pinned
// channel id before the channel name is known.
func hangupTarget(a *calls.Attempt) string {
	if a.Channel != "" {
		return a.Channel
	}
	return a.UniqueID
}

// hangupAll requests hangup of every channel concurrently. Failures are
// logged; the watchdog resolves whatever the PBX never reports.
func (e *Engine) hangupAll(ctx context.Context, campaignID string, channels []string) {
	if len(channels) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.grace)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(hangupParallelism)
	for _, ch := range channels {
		g.Go(func() error {
			if err := e.dialer.HangupByChannel(ctx, ch); err != nil {
				e.log.Warn("hangup failed", "campaign_id", campaignID, "channel", ch, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
