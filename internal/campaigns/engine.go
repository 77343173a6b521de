package campaigns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"telecom-dialer/internal/calls"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("campaigns: not found")
	ErrInvalidTransition = errors.New("campaigns: invalid status transition")
	ErrInvalidCampaign   = errors.New("campaigns: invalid campaign")
)

const (
	DefaultGrace       = 15 * time.Second
	DefaultCallTimeout = 30 * time.Second

	persistTimeout = 5 * time.Second
)

// Options wires an Engine. Only Dispatcher is required.
type Options struct {
	Dispatcher Dispatcher
	Store      Store
	Publisher  Publisher
	Limiter    Limiter
	Recorder   Recorder
	Logger     *slog.Logger

	// Grace is added to a campaign's call timeout before the watchdog gives up
	// on an attempt, and bounds how long a stopping campaign waits for hangups.
	Grace time.Duration
	// DefaultCallTimeout applies to campaigns created without one.
	DefaultCallTimeout time.Duration

	Clock func() time.Time
}

// Engine is the campaign registry. It owns every campaign's queue, in-flight
// attempts and statistics, and routes PBX events to the attempt they concern.
//
// Locking:
// - Each campaign has one mutex; it is the only mutation path for that campaign.
// - The index mutex guards event routing maps only and is always taken last.
type Engine struct {
	dialer    Dispatcher
	store     Store
	publisher Publisher
	limiter   Limiter
	rec       Recorder
	log       *slog.Logger
	clock     func() time.Time
	validate  *validator.Validate

	grace              time.Duration
	defaultCallTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	lifeMu sync.Mutex // orders wg.Add against Close
	closed bool

	mu        sync.RWMutex
	campaigns map[string]*run
	order     []*run

	idxMu sync.Mutex
	index map[string]ref
	keys  map[string][]string // attempt id -> index keys

	online           atomic.Bool
	pendingReconcile atomic.Bool
}

type ref struct {
	r         *run
	attemptID string
}

func NewEngine(opts Options) *Engine {
	if opts.Dispatcher == nil {
		panic("campaigns: dispatcher required")
	}
	e := &Engine{
		dialer:             opts.Dispatcher,
		store:              opts.Store,
		publisher:          opts.Publisher,
		limiter:            opts.Limiter,
		rec:                opts.Recorder,
		log:                opts.Logger,
		clock:              opts.Clock,
		validate:           validator.New(validator.WithRequiredStructEnabled()),
		grace:              opts.Grace,
		defaultCallTimeout: opts.DefaultCallTimeout,
		campaigns:          map[string]*run{},
		index:              map[string]ref{},
		keys:               map[string][]string{},
	}
	if e.store == nil {
		e.store = nopStore{}
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.limiter == nil {
		e.limiter = nopLimiter{}
	}
	if e.rec == nil {
		e.rec = nopRecorder{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "campaigns")
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.grace <= 0 {
		e.grace = DefaultGrace
	}
	if e.defaultCallTimeout <= 0 {
		e.defaultCallTimeout = DefaultCallTimeout
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.online.Store(true)
	return e
}

// Close stops dispatching and waits for running pumps to return.
func (e *Engine) Close() {
	e.lifeMu.Lock()
	e.closed = true
	e.cancel()
	e.lifeMu.Unlock()
	e.wg.Wait()
}

// spawn runs fn on a goroutine Close waits for. It reports false once the
// engine is closed.
func (e *Engine) spawn(fn func()) bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *Engine) Create(ctx context.Context, req CreateRequest) (Campaign, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Trunk = strings.TrimSpace(req.Trunk)
	req.DialContext = strings.TrimSpace(req.DialContext)
	req.Extension = strings.TrimSpace(req.Extension)
	req.Destinations = normalizeDestinations(req.Destinations)
	if err := e.validate.Struct(req); err != nil {
		return Campaign{}, fmt.Errorf("%w: %s", ErrInvalidCampaign, describe(err))
	}

	now := e.clock().UTC()
	c := Campaign{
		ID:                 uuid.NewString(),
		TenantID:           req.TenantID,
		Name:               req.Name,
		ScriptRef:          req.ScriptRef,
		Trunk:              req.Trunk,
		DialContext:        req.DialContext,
		Extension:          req.Extension,
		Priority:           req.Priority,
		CallerID:           req.CallerID,
		Concurrency:        req.Concurrency,
		CallTimeoutSeconds: req.CallTimeoutSeconds,
		Variables:          cloneVars(req.Variables),
		Status:             StatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if c.Extension == "" {
		c.Extension = "s"
	}
	if c.Priority == 0 {
		c.Priority = 1
	}
	if c.CallTimeoutSeconds == 0 {
		c.CallTimeoutSeconds = int(e.defaultCallTimeout / time.Second)
	}

	r := newRun(c)
	r.enqueue(req.Destinations)

	e.mu.Lock()
	e.campaigns[c.ID] = r
	e.order = append(e.order, r)
	e.mu.Unlock()

	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	e.log.Info("campaign created", "campaign_id", c.ID, "name", c.Name, "destinations", snap.Stats.Total, "concurrency", c.Concurrency)
	e.persistCampaign(ctx, snap)
	return snap, nil
}

// AddDestinations appends a batch to the campaign queue. Duplicates inside the
// batch are dropped; numbers already queued or dialed are accepted again.
func (e *Engine) AddDestinations(ctx context.Context, id string, destinations []string) (int, Campaign, error) {
	batch := destinationBatch{Destinations: normalizeDestinations(destinations)}
	if err := e.validate.Struct(batch); err != nil {
		return 0, Campaign{}, fmt.Errorf("%w: %s", ErrInvalidCampaign, describe(err))
	}
	r, err := e.get(id)
	if err != nil {
		return 0, Campaign{}, err
	}

	var fx effects
	r.mu.Lock()
	if r.c.Status.IsTerminal() || r.c.Status == StatusStopping {
		st := r.c.Status
		r.mu.Unlock()
		return 0, Campaign{}, fmt.Errorf("%w: cannot add destinations to %s campaign", ErrInvalidTransition, st)
	}
	added := r.enqueue(batch.Destinations)
	r.c.UpdatedAt = e.clock().UTC()
	fx.campaignChanged = true
	fx.kick = r.c.Status == StatusRunning
	e.sealLocked(r, &fx)
	snap := *fx.campaign
	r.mu.Unlock()

	e.log.Info("destinations added", "campaign_id", id, "added", added)
	e.apply(r, fx)
	return added, snap, nil
}

// Start moves a draft or paused campaign to running.
func (e *Engine) Start(ctx context.Context, id string) (Campaign, error) {
	return e.transition(id, func(r *run, now time.Time, fx *effects) error {
		if r.c.Status != StatusDraft && r.c.Status != StatusPaused {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, r.c.Status)
		}
		if r.total == 0 {
			return fmt.Errorf("%w: no destinations", ErrInvalidCampaign)
		}
		r.c.Status = StatusRunning
		if r.c.StartedAt == nil {
			t := now
			r.c.StartedAt = &t
		}
		fx.kick = true
		e.checkDoneLocked(r, fx)
		return nil
	})
}

// Pause halts further dispatch. In-flight attempts are left alone.
func (e *Engine) Pause(ctx context.Context, id string) (Campaign, error) {
	return e.transition(id, func(r *run, now time.Time, fx *effects) error {
		if r.c.Status != StatusRunning {
			return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, r.c.Status)
		}
		r.c.Status = StatusPaused
		return nil
	})
}

// Stop halts dispatch for good and hangs up every in-flight call. The campaign
// stays stopping until its attempts resolve, by event or by the watchdog.
// Hangup failures are logged and otherwise ignored.
func (e *Engine) Stop(ctx context.Context, id string) (Campaign, error) {
	var targets []string
	snap, err := e.transition(id, func(r *run, now time.Time, fx *effects) error {
		if r.c.Status.IsTerminal() || r.c.Status == StatusStopping {
			return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, r.c.Status)
		}
		r.c.Status = StatusStopping
		r.stoppingSince = now
		for _, a := range r.inFlight {
			if a.Status == calls.StatusQueued {
				continue
			}
			if t := hangupTarget(a); t != "" {
				targets = append(targets, t)
			}
		}
		e.checkDoneLocked(r, fx)
		return nil
	})
	if err != nil {
		return Campaign{}, err
	}
	e.hangupAll(ctx, id, targets)
	return snap, nil
}

func (e *Engine) transition(id string, fn func(r *run, now time.Time, fx *effects) error) (Campaign, error) {
	r, err := e.get(id)
	if err != nil {
		return Campaign{}, err
	}
	now := e.clock().UTC()

	var fx effects
	r.mu.Lock()
	from := r.c.Status
	if err := fn(r, now, &fx); err != nil {
		r.mu.Unlock()
		return Campaign{}, err
	}
	r.c.UpdatedAt = now
	fx.campaignChanged = true
	e.sealLocked(r, &fx)
	snap := *fx.campaign
	r.mu.Unlock()

	e.log.Info("campaign status changed", "campaign_id", id, "from", from, "to", snap.Status)
	e.apply(r, fx)
	return snap, nil
}

func (e *Engine) Get(id string) (Campaign, error) {
	r, err := e.get(id)
	if err != nil {
		return Campaign{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

// List returns campaigns in creation order, filtered by tenant when tenantID is set.
func (e *Engine) List(tenantID string) []Campaign {
	out := make([]Campaign, 0)
	for _, r := range e.runs() {
		r.mu.Lock()
		if tenantID == "" || r.c.TenantID == tenantID {
			out = append(out, r.snapshotLocked())
		}
		r.mu.Unlock()
	}
	return out
}

// Attempts returns the campaign's call attempts in dispatch order.
func (e *Engine) Attempts(id string) ([]calls.Attempt, error) {
	r, err := e.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Attempt, 0, len(r.attempts))
	for _, a := range r.attempts {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (e *Engine) Failures(id string) ([]DispatchFailure, error) {
	r, err := e.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchFailure, len(r.failures))
	copy(out, r.failures)
	return out, nil
}

func (e *Engine) get(id string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (e *Engine) runs() []*run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*run, len(e.order))
	copy(out, e.order)
	return out
}

func normalizeDestinations(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimSpace(d)
		d = strings.TrimPrefix(d, "+")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func cloneVars(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// describe flattens validator errors into "field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
