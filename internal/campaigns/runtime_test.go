package campaigns

import (
	"context"
	"fmt"
	"testing"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/telephony"

	"github.com/stretchr/testify/require"
)

type idleDialer struct{}

func (idleDialer) Originate(context.Context, telephony.OriginateRequest) (telephony.OriginateResult, error) {
	return telephony.OriginateResult{}, nil
}
func (idleDialer) HangupByChannel(context.Context, string) error { return nil }
func (idleDialer) ListActiveChannels(context.Context) ([]telephony.ChannelSnapshot, error) {
	return nil, nil
}

func TestStatsCountersFollowSettledAttempts(t *testing.T) {
	e := NewEngine(Options{Dispatcher: idleDialer{}})
	t.Cleanup(e.Close)

	r := newRun(Campaign{ID: "c1", Status: StatusPaused, Concurrency: 100, Trunk: "PJSIP/carrier"})
	statuses := []calls.Status{
		calls.StatusBusy, calls.StatusNoAnswer, calls.StatusFailed,
		calls.StatusCompleted, calls.StatusAnswered, calls.StatusDialing,
	}
	for i := 0; i < 60; i++ {
		a := &calls.Attempt{ID: fmt.Sprintf("a%02d", i), Status: statuses[i%len(statuses)]}
		r.inFlight[a.ID] = a
		r.attempts = append(r.attempts, a)
		r.total++
	}
	r.failures = append(r.failures, DispatchFailure{CampaignID: "c1", Destination: "905551110001"})
	r.total++

	r.mu.Lock()
	defer r.mu.Unlock()
	var fx effects
	for _, a := range r.attempts {
		if a.Status.IsTerminal() {
			e.settleLocked(r, a, &fx)
			// Settling twice must not double count.
			e.settleLocked(r, a, &fx)
		}
	}
	require.Equal(t, Stats{Total: 61, InFlight: 20, Answered: 10, Busy: 10, NoAnswer: 10, Failed: 11, Completed: 10}, r.statsLocked())
}
