package campaigns

import (
	"context"
	"strconv"
	"strings"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/calls"
)

// TrackedEvents are the PBX events HandleEvent understands.
var TrackedEvents = []string{"OriginateResponse", "Newchannel", "Newstate", "Hangup", "DTMFEnd", "DTMF"}

// Channel states carried by Newstate.
const (
	channelStateRinging = "5"
	channelStateUp      = "6"
)

// Consume feeds events from sub into the engine until ctx is done or the
// subscription is closed.
func (e *Engine) Consume(ctx context.Context, sub *ami.Subscription) error {
	for {
		select {
		case m := <-sub.C:
			e.HandleEvent(m)
		case <-sub.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// HandleEvent applies one PBX event to the attempt it concerns. Events for
// unknown or already resolved attempts are ignored.
func (e *Engine) HandleEvent(m ami.Message) {
	ev := strings.ToLower(m.Event())
	uid, channel := field(m, "Uniqueid"), field(m, "Channel")

	var keys []string
	switch ev {
	case "originateresponse":
		keys = []string{keyAction(m.ActionID()), keyUnique(uid), keyChannel(channel)}
	case "newchannel", "newstate", "hangup", "dtmfend", "dtmf":
		keys = []string{keyUnique(uid), keyChannel(channel)}
	default:
		return
	}
	found, ok := e.lookup(keys...)
	if !ok {
		return
	}
	r := found.r
	now := e.clock().UTC()

	var fx effects
	r.mu.Lock()
	a, pending := r.inFlight[found.attemptID]
	if !pending || a.Status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	changed := false
	if a.Status == calls.StatusQueued {
		// Events can overtake the Originate acknowledgement.
		_ = a.Dial(a.ActionID, a.UniqueID, now)
		changed = true
	}
	a.Touch(now)
	if e.bindChannelLocked(r, a, uid, channel) {
		changed = true
	}
	if applyEvent(a, ev, m, now) {
		changed = true
	}
	if changed {
		fx.attempt(a)
	}
	if a.Status.IsTerminal() {
		e.settleLocked(r, a, &fx)
		fx.campaignChanged = true
	}
	e.sealLocked(r, &fx)
	r.mu.Unlock()

	e.apply(r, fx)
}

// bindChannelLocked records the PBX identifiers an event reveals and routes
// later events carrying them to the same attempt.
func (e *Engine) bindChannelLocked(r *run, a *calls.Attempt, uid, channel string) bool {
	changed := false
	if uid != "" && uid != a.UniqueID {
		a.UniqueID = uid
		e.bind(r, a.ID, keyUnique(uid))
		changed = true
	}
	if channel != "" && channel != a.Channel {
		a.Channel = channel
		e.bind(r, a.ID, keyChannel(channel))
		changed = true
	}
	return changed
}

func applyEvent(a *calls.Attempt, ev string, m ami.Message, now time.Time) bool {
	switch ev {
	case "originateresponse":
		if strings.EqualFold(m.Response(), "Success") {
			return a.Answer(now)
		}
		reason, _ := strconv.Atoi(m.Get("Reason"))
		return a.OriginateFailed(reason, now)
	case "newstate":
		switch m.Get("ChannelState") {
		case channelStateRinging:
			return a.Ring(now)
		case channelStateUp:
			return a.Answer(now)
		}
	case "hangup":
		code, _ := strconv.Atoi(m.Get("Cause"))
		return a.Hangup(code, m.Get("Cause-txt"), now)
	case "dtmfend":
		if received(m) {
			return a.CaptureDigit(m.Get("Digit"), now)
		}
	case "dtmf":
		if strings.EqualFold(m.Get("End"), "Yes") && received(m) {
			return a.CaptureDigit(m.Get("Digit"), now)
		}
	}
	return false
}

// field reads a header, treating the PBX's "<null>" placeholder as empty.
func field(m ami.Message, key string) string {
	v := m.Get(key)
	if v == "<null>" {
		return ""
	}
	return v
}

// received reports whether a DTMF event came from the far end. Older PBXes
// omit Direction.
func received(m ami.Message) bool {
	d := m.Get("Direction")
	return d == "" || strings.EqualFold(d, "Received")
}
