package telephony

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"telecom-dialer/internal/ami"

	"github.com/cenkalti/backoff/v5"
)

// Connector is the lifecycle half of *ami.Session.
type Connector interface {
	Connect(ctx context.Context) error
	State() ami.State
	OnStateChange(fn func(ami.State, error))
}

// Supervisor keeps the manager session connected. The session itself never
// retries; this is the one place that does.
type Supervisor struct {
	Session Connector
	Log     *slog.Logger

	// OnLost runs after an established connection drops.
	OnLost func()
	// OnRestored runs after every successful reconnect (not the first connect).
	OnRestored func(ctx context.Context)

	// NewBackOff overrides the reconnect schedule. Defaults to exponential
	// backoff capped at 30s between attempts.
	NewBackOff func() backoff.BackOff
}

// Run connects, then waits for drops and reconnects until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "supervisor")

	lost := make(chan struct{}, 1)
	s.Session.OnStateChange(func(st ami.State, err error) {
		if st == ami.StateDisconnected && errors.Is(err, ami.ErrConnectionLost) {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	first := true
	for {
		if err := s.connect(ctx, log); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !first && s.OnRestored != nil {
			log.Info("manager session restored")
			s.OnRestored(ctx)
		}
		first = false

		select {
		case <-ctx.Done():
			return nil
		case <-lost:
		}
		// Drain a signal left over from the previous connection and re-check.
		if s.Session.State() == ami.StateConnected {
			continue
		}
		log.Warn("manager session lost")
		if s.OnLost != nil {
			s.OnLost()
		}
	}
}

func (s *Supervisor) connect(ctx context.Context, log *slog.Logger) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.Session.Connect(ctx)
		if errors.Is(err, ami.ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("manager connect failed, retrying", "err", err, "retry_in", next)
		}),
	)
	return err
}

func (s *Supervisor) backOff() backoff.BackOff {
	if s.NewBackOff != nil {
		return s.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}
