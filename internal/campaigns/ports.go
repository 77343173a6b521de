package campaigns

import (
	"context"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/telephony"
)

// Dispatcher places and tears down calls. *telephony.AMIProvider satisfies it.
type Dispatcher interface {
	Originate(ctx context.Context, req telephony.OriginateRequest) (telephony.OriginateResult, error)
	HangupByChannel(ctx context.Context, channel string) error
	ListActiveChannels(ctx context.Context) ([]telephony.ChannelSnapshot, error)
}

// Store persists campaign metadata, terminal attempts and dispatch failures.
// Writes are best-effort; a failing store never blocks dialing.
type Store interface {
	SaveCampaign(ctx context.Context, c Campaign) error
	SaveAttempt(ctx context.Context, a calls.Attempt) error
	SaveFailure(ctx context.Context, f DispatchFailure) error
}

// Publisher pushes live updates to monitoring collaborators.
type Publisher interface {
	PublishAttempt(ctx context.Context, a calls.Attempt) error
	PublishCampaign(ctx context.Context, c Campaign) error
}

// Limiter caps concurrent channels per trunk across engine processes.
type Limiter interface {
	Acquire(ctx context.Context, trunk string) (bool, error)
	Release(ctx context.Context, trunk string) error
}

// Recorder receives dispatch and outcome counts for metrics.
type Recorder interface {
	Dispatch(result string)
	Outcome(o calls.Outcome)
	InFlight(campaignID string, n int)
}

// Dispatch results reported to Recorder.
const (
	DispatchAccepted        = "accepted"
	DispatchRejected        = "rejected"
	DispatchAckTimeout      = "ack_timeout"
	DispatchConnectionError = "connection_error"
	DispatchTrunkBusy       = "trunk_busy"
)

type nopStore struct{}

func (nopStore) SaveCampaign(context.Context, Campaign) error       { return nil }
func (nopStore) SaveAttempt(context.Context, calls.Attempt) error   { return nil }
func (nopStore) SaveFailure(context.Context, DispatchFailure) error { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishAttempt(context.Context, calls.Attempt) error { return nil }
func (nopPublisher) PublishCampaign(context.Context, Campaign) error     { return nil }

type nopLimiter struct{}

func (nopLimiter) Acquire(context.Context, string) (bool, error) { return true, nil }
func (nopLimiter) Release(context.Context, string) error         { return nil }

type nopRecorder struct{}

func (nopRecorder) Dispatch(string)       {}
func (nopRecorder) Outcome(calls.Outcome) {}
func (nopRecorder) InFlight(string, int)  {}
