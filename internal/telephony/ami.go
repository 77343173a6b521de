package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"telecom-dialer/internal/ami"

	"github.com/google/uuid"
)

var (
	// ErrOriginateRejected means the PBX answered the Originate with anything but Success.
	ErrOriginateRejected = errors.New("telephony: originate rejected")
	// ErrMalformedResponse means the acknowledgement carried no Response field.
	ErrMalformedResponse = errors.New("telephony: malformed response")
	// ErrAckTimeout means no acknowledgement arrived in time. The call may still be placed.
	ErrAckTimeout = errors.New("telephony: acknowledgement timeout")
	// ErrHangupFailed means the PBX refused the Hangup (usually the channel is already gone).
	ErrHangupFailed = errors.New("telephony: hangup failed")
)

const DefaultActionTimeout = 5 * time.Second

// ManagerSession is the subset of *ami.Session the adapter needs.
type ManagerSession interface {
	Submit(ctx context.Context, a ami.Action) (ami.Message, error)
	Collect(ctx context.Context, a ami.Action, completeEvent string) ([]ami.Message, error)
	State() ami.State
}

// AMIProvider dispatches calls through a PBX manager session.
//
// IMPORTANT:
// - Keep this adapter free of campaign logic.
// - It only translates requests into manager actions and acknowledgements into errors.
type AMIProvider struct {
	session       ManagerSession
	actionTimeout time.Duration
	log           *slog.Logger
}

func NewAMIProvider(session ManagerSession, actionTimeout time.Duration, log *slog.Logger) *AMIProvider {
	if actionTimeout <= 0 {
		actionTimeout = DefaultActionTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &AMIProvider{session: session, actionTimeout: actionTimeout, log: log.With("component", "dispatcher")}
}

func (p *AMIProvider) Name() string { return "ami" }

func (p *AMIProvider) HealthCheck(ctx context.Context) error {
	if st := p.session.State(); st != ami.StateConnected {
		return fmt.Errorf("%w (state %s)", ami.ErrNotConnected, st)
	}
	return nil
}

func (p *AMIProvider) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	if strings.TrimSpace(req.Channel) == "" {
		return OriginateResult{}, errors.New("telephony: channel required")
	}
	a := buildOriginate(req)
	if a.ActionID == "" {
		a.ActionID = uuid.NewString()
	}

	resp, err := p.submit(ctx, a)
	if err != nil {
		return OriginateResult{}, err
	}
	if err := checkAck(resp, ErrOriginateRejected); err != nil {
		p.log.Warn("originate rejected", "action_id", a.ActionID, "channel", req.Channel, "err", err)
		return OriginateResult{}, err
	}
	return OriginateResult{ActionID: a.ActionID, ChannelID: req.ChannelID, Message: resp.Get("Message")}, nil
}

func (p *AMIProvider) HangupByChannel(ctx context.Context, channel string) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("telephony: channel required")
	}
	resp, err := p.submit(ctx, ami.NewAction("Hangup", "Channel", channel))
	if err == nil {
		err = checkAck(resp, ErrHangupFailed)
	}
	if err != nil {
		p.log.Warn("hangup failed", "channel", channel, "err", err)
		return err
	}
	return nil
}

func (p *AMIProvider) ListActiveChannels(ctx context.Context) ([]ChannelSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.actionTimeout)
	defer cancel()

	items, err := p.session.Collect(ctx, ami.NewAction("CoreShowChannels"), "CoreShowChannelsComplete")
	if err != nil {
		return nil, err
	}
	out := make([]ChannelSnapshot, 0, len(items))
	for _, m := range items {
		if !strings.EqualFold(m.Event(), "CoreShowChannel") {
			continue
		}
		out = append(out, snapshotFrom(m))
	}
	return out, nil
}

// submit bounds a single request by the action timeout and tells a missing
// acknowledgement apart from caller cancellation.
func (p *AMIProvider) submit(ctx context.Context, a ami.Action) (ami.Message, error) {
	actx, cancel := context.WithTimeout(ctx, p.actionTimeout)
	defer cancel()
	resp, err := p.session.Submit(actx, a)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ami.Message{}, fmt.Errorf("%w: %s after %s", ErrAckTimeout, a.Name, p.actionTimeout)
	}
	return resp, err
}

func checkAck(resp ami.Message, rejected error) error {
	switch {
	case resp.Response() == "":
		return ErrMalformedResponse
	case !resp.IsSuccess():
		return fmt.Errorf("%w: %s", rejected, resp.Get("Message"))
	}
	return nil
}

func buildOriginate(req OriginateRequest) ami.Action {
	a := ami.NewAction("Originate",
		"Channel", req.Channel,
		"Exten", req.Extension,
		"Context", req.Context,
		"Priority", strconv.Itoa(max(req.Priority, 1)),
		"Timeout", strconv.FormatInt(req.Timeout.Milliseconds(), 10),
	)
	a.ActionID = req.ActionID
	if req.CallerID != "" {
		a.Set("CallerID", req.CallerID)
	}
	a.Set("Async", "true")
	if req.ChannelID != "" {
		a.Set("ChannelId", req.ChannelID)
	}
	for i, kv := range encodeVariables(req.Variables) {
		a.Set("Variable"+strconv.Itoa(i+1), kv)
	}
	return a
}

// encodeVariables flattens vars into "key=value" entries in key order.
func encodeVariables(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}

func snapshotFrom(m ami.Message) ChannelSnapshot {
	callerID := m.Get("CallerIDNum")
	if callerID == "" || callerID == "<unknown>" {
		callerID = m.Get("CallerIDName")
	}
	return ChannelSnapshot{
		Channel:         m.Get("Channel"),
		UniqueID:        m.Get("Uniqueid"),
		State:           m.Get("ChannelStateDesc"),
		CallerID:        callerID,
		Context:         m.Get("Context"),
		Extension:       m.Get("Exten"),
		Application:     m.Get("Application"),
		DurationSeconds: parseDuration(m.Get("Duration")),
	}
}

// parseDuration accepts "HH:MM:SS" or plain seconds. Unparseable input is 0.
func parseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	total := 0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// ChannelFor builds the dial string for destination on trunk. A trunk containing
// "%s" is treated as a template, e.g. "PJSIP/%s@carrier".
func ChannelFor(trunk, destination string) string {
	if strings.Contains(trunk, "%s") {
		return strings.ReplaceAll(trunk, "%s", destination)
	}
	return strings.TrimSuffix(trunk, "/") + "/" + destination
}

// IsUnacknowledged reports a request that reached the PBX before the
// connection dropped. Its effect is unknown and it must not be sent again.
func IsUnacknowledged(err error) bool {
	return errors.Is(err, ami.ErrUnacknowledged)
}

// IsConnectionError reports errors that belong to the session rather than the call.
func IsConnectionError(err error) bool {
	return errors.Is(err, ami.ErrConnectionLost) ||
		errors.Is(err, ami.ErrNotConnected) ||
		errors.Is(err, ami.ErrConnectTimeout) ||
		errors.Is(err, ami.ErrAuthentication) ||
		errors.Is(err, ami.ErrClosed)
}
