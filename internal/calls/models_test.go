package calls

import (
	"testing"
	"time"
)

var t0 = time.Unix(1700000000, 0).UTC()

func dialing(t *testing.T) *Attempt {
	t.Helper()
	a := &Attempt{ID: "a1", CampaignID: "c1", Destination: "905551110001", Status: StatusQueued}
	if err := a.Dial("act-1", "uid-1", t0); err != nil {
		t.Fatalf("dial: %v", err)
	}
	return a
}

func TestStatusOutcome(t *testing.T) {
	cases := map[Status]Outcome{
		StatusQueued:    OutcomePending,
		StatusDialing:   OutcomeDialing,
		StatusRinging:   OutcomeDialing,
		StatusAnswered:  OutcomeAnswered,
		StatusCompleted: OutcomeCompleted,
		StatusBusy:      OutcomeBusy,
		StatusNoAnswer:  OutcomeNoAnswer,
		StatusFailed:    OutcomeFailed,
	}
	for st, want := range cases {
		if got := st.Outcome(); got != want {
			t.Fatalf("%s: expected %s, got %s", st, want, got)
		}
	}
}

func TestDialSetsActionIDOnce(t *testing.T) {
	a := dialing(t)
	if a.Status != StatusDialing || a.ActionID != "act-1" || a.UniqueID != "uid-1" {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	if err := a.Dial("act-2", "", t0); err != ErrActionIDSet {
		t.Fatalf("expected ErrActionIDSet, got %v", err)
	}
}

func TestAnsweredCallCompletesWithDuration(t *testing.T) {
	a := dialing(t)
	if !a.Ring(t0.Add(time.Second)) {
		t.Fatalf("expected ringing")
	}
	if !a.Answer(t0.Add(3 * time.Second)) {
		t.Fatalf("expected answered")
	}
	a.CaptureDigit("1", t0.Add(4*time.Second))
	a.CaptureDigit("#", t0.Add(5*time.Second))
	if !a.Hangup(CauseUserBusy, "", t0.Add(45*time.Second)) {
		t.Fatalf("expected hangup applied")
	}
	if a.Status != StatusCompleted {
		t.Fatalf("hangup after answer must complete, got %s", a.Status)
	}
	if a.DurationSeconds != 42 {
		t.Fatalf("expected 42s, got %d", a.DurationSeconds)
	}
	if a.Signal != "1#" {
		t.Fatalf("expected captured signal, got %q", a.Signal)
	}
}

func TestHangupBeforeAnswerClassifies(t *testing.T) {
	cases := []struct {
		code int
		want Status
	}{
		{CauseUserBusy, StatusBusy},
		{CauseNoUserResponse, StatusNoAnswer},
		{CauseNoAnswer, StatusNoAnswer},
		{CauseNormalClearing, StatusNoAnswer},
		{CauseCallRejected, StatusFailed},
		{CauseCongestion, StatusFailed},
	}
	for _, tc := range cases {
		if got := ClassifyHangup(tc.code); got != tc.want {
			t.Fatalf("classify %d: expected %s, got %s", tc.code, tc.want, got)
		}
		a := dialing(t)
		a.Hangup(tc.code, "", t0.Add(time.Second))
		if a.Status != tc.want {
			t.Fatalf("cause %d: expected %s, got %s", tc.code, tc.want, a.Status)
		}
		if a.HangupCause != CauseText(tc.code) || a.EndedAt == nil || a.DurationSeconds != 0 {
			t.Fatalf("cause %d: unexpected attempt %+v", tc.code, a)
		}
	}
}

func TestOriginateFailureReasons(t *testing.T) {
	cases := map[int]Status{
		ReasonBusy:        StatusBusy,
		ReasonRingTimeout: StatusNoAnswer,
		ReasonHangup:      StatusNoAnswer,
		ReasonFailure:     StatusFailed,
		ReasonCongestion:  StatusFailed,
	}
	for reason, want := range cases {
		a := dialing(t)
		a.OriginateFailed(reason, t0)
		if a.Status != want {
			t.Fatalf("reason %d: expected %s, got %s", reason, want, a.Status)
		}
	}
}

func TestTerminalAttemptIsImmutable(t *testing.T) {
	a := dialing(t)
	a.Fail(CauseNoResponse, t0.Add(time.Minute))
	snapshot := a.Clone()

	if a.Answer(t0.Add(2*time.Minute)) || a.Hangup(CauseNormalClearing, "", t0.Add(2*time.Minute)) ||
		a.CaptureDigit("5", t0.Add(2*time.Minute)) || a.Resolve(CauseStopped, t0.Add(2*time.Minute)) {
		t.Fatalf("terminal attempt accepted a transition")
	}
	a.Touch(t0.Add(3 * time.Minute))
	if a.Status != StatusFailed || a.HangupCause != CauseNoResponse || !a.LastEventAt.Equal(snapshot.LastEventAt) || a.Signal != "" {
		t.Fatalf("terminal attempt mutated: %+v", a)
	}
}

func TestResolve(t *testing.T) {
	answered := dialing(t)
	answered.Answer(t0.Add(time.Second))
	answered.Resolve(CauseStopped, t0.Add(11*time.Second))
	if answered.Status != StatusCompleted || answered.DurationSeconds != 10 {
		t.Fatalf("answered attempt should complete: %+v", answered)
	}

	ringing := dialing(t)
	ringing.Ring(t0)
	ringing.ConnectionLost = true
	ringing.Resolve(CauseConnectionLost, t0.Add(time.Second))
	if ringing.Status != StatusFailed || ringing.HangupCause != CauseConnectionLost || ringing.ConnectionLost {
		t.Fatalf("ringing attempt should fail: %+v", ringing)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	a := dialing(t)
	a.Variables = map[string]string{"K": "v"}
	a.Answer(t0)
	c := a.Clone()
	c.Variables["K"] = "changed"
	*c.AnsweredAt = t0.Add(time.Hour)
	if a.Variables["K"] != "v" || !a.AnsweredAt.Equal(t0) {
		t.Fatalf("clone aliases original")
	}
}

func TestCauseText(t *testing.T) {
	if CauseText(17) != "USER_BUSY" || CauseText(999) != "CAUSE_999" {
		t.Fatalf("unexpected cause text")
	}
}
