package calls

import (
	"errors"
	"time"
)

// Causes recorded for attempts resolved without a PBX hangup cause.
const (
	CauseNoResponse     = "no-response"
	CauseConnectionLost = "connection-lost"
	CauseStopped        = "stopped"
)

var ErrActionIDSet = errors.New("calls: action id already set")

// The transition methods below return true when they changed the attempt.
// They are not safe for concurrent use; the owning campaign serializes them.

// Dial binds the correlation key and moves a queued attempt to dialing.
func (a *Attempt) Dial(actionID, uniqueID string, now time.Time) error {
	if a.ActionID != "" && a.ActionID != actionID {
		return ErrActionIDSet
	}
	a.ActionID = actionID
	if uniqueID != "" {
		a.UniqueID = uniqueID
	}
	if a.Status == StatusQueued || a.Status == "" {
		a.Status = StatusDialing
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = now
	}
	a.LastEventAt = now
	return nil
}

// Touch records that an event about the attempt was observed.
func (a *Attempt) Touch(now time.Time) {
	if !a.Status.IsTerminal() {
		a.LastEventAt = now
	}
}

func (a *Attempt) Ring(now time.Time) bool {
	if a.Status != StatusDialing {
		return false
	}
	a.Status = StatusRinging
	a.LastEventAt = now
	return true
}

func (a *Attempt) Answer(now time.Time) bool {
	if a.Status != StatusDialing && a.Status != StatusRinging {
		return false
	}
	a.Status = StatusAnswered
	t := now
	a.AnsweredAt = &t
	a.LastEventAt = now
	return true
}

// Hangup ends the call with a Q.850 cause. After answer the call completed
// normally whatever the cause; before answer the cause picks the outcome.
func (a *Attempt) Hangup(code int, text string, now time.Time) bool {
	if a.Status.IsTerminal() {
		return false
	}
	if text == "" {
		text = CauseText(code)
	}
	a.HangupCauseCode = code
	a.HangupCause = text
	if a.Status == StatusAnswered {
		a.finish(StatusCompleted, now)
		return true
	}
	a.finish(ClassifyHangup(code), now)
	return true
}

// OriginateFailed resolves an attempt from an OriginateResponse failure reason.
func (a *Attempt) OriginateFailed(reason int, now time.Time) bool {
	if a.Status.IsTerminal() {
		return false
	}
	if a.HangupCause == "" {
		a.HangupCause = OriginateReasonText(reason)
	}
	a.finish(ClassifyOriginateReason(reason), now)
	return true
}

// Fail force-resolves a non-terminal attempt to failed.
func (a *Attempt) Fail(cause string, now time.Time) bool {
	if a.Status.IsTerminal() {
		return false
	}
	a.HangupCause = cause
	a.finish(StatusFailed, now)
	return true
}

// Resolve force-resolves an attempt whose end will never be reported:
// answered calls are completed, everything else failed with cause.
func (a *Attempt) Resolve(cause string, now time.Time) bool {
	if a.Status.IsTerminal() {
		return false
	}
	if a.Status == StatusAnswered {
		a.HangupCause = cause
		a.finish(StatusCompleted, now)
		return true
	}
	return a.Fail(cause, now)
}

// CaptureDigit appends a received DTMF digit.
func (a *Attempt) CaptureDigit(digit string, now time.Time) bool {
	if a.Status.IsTerminal() || digit == "" {
		return false
	}
	a.Signal += digit
	a.LastEventAt = now
	return true
}

func (a *Attempt) finish(st Status, now time.Time) {
	a.Status = st
	t := now
	a.EndedAt = &t
	a.LastEventAt = now
	a.ConnectionLost = false
	if st == StatusCompleted && a.AnsweredAt != nil {
		if d := now.Sub(*a.AnsweredAt); d > 0 {
			a.DurationSeconds = int(d.Round(time.Second) / time.Second)
		}
	}
}
