package telephony

import (
	"context"
	"time"
)

// Provider defines the provider-agnostic dialer interface used by business logic.
//
// Rules:
// - No manager-protocol calls outside telephony adapters.
// - Positional wire encodings (VariableN) never leak past the adapter; callers pass maps.
// - Dispatch failures are returned as errors; call outcomes arrive later as events.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error)
	HangupByChannel(ctx context.Context, channel string) error
	ListActiveChannels(ctx context.Context) ([]ChannelSnapshot, error)
}

// OriginateRequest places one outbound call.
type OriginateRequest struct {
	// ActionID is the correlation key for the request and its OriginateResponse event.
	// Generated when empty.
	ActionID string `json:"action_id"`

	// ChannelID pins the uniqueid of the new channel so later events can be
	// routed before the PBX reports it. Optional.
	ChannelID string `json:"channel_id,omitempty"`

	// Channel is the dial string, e.g. "PJSIP/905551110001@trunk". See ChannelFor.
	Channel   string `json:"channel"`
	Extension string `json:"extension"`
	Context   string `json:"context"`
	Priority  int    `json:"priority"`

	// CallerID overrides the trunk default when set.
	CallerID string `json:"caller_id,omitempty"`

	// Timeout is how long the PBX lets the destination ring.
	Timeout time.Duration `json:"timeout"`

	Variables map[string]string `json:"variables,omitempty"`
}

// OriginateResult is the PBX acknowledgement of an accepted Originate.
type OriginateResult struct {
	ActionID  string `json:"action_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ChannelSnapshot is a point-in-time view of one live PBX channel.
type ChannelSnapshot struct {
	Channel     string `json:"channel"`
	UniqueID    string `json:"unique_id"`
	State       string `json:"state"`
	CallerID    string `json:"caller_id,omitempty"`
	Context     string `json:"context,omitempty"`
	Extension   string `json:"extension,omitempty"`
	Application string `json:"application,omitempty"`

	DurationSeconds int `json:"duration_seconds"`
}

// IsUp reports whether the channel has been answered.
func (c ChannelSnapshot) IsUp() bool { return c.State == "Up" }
