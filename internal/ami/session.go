package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session owns the single long-lived connection to the PBX manager interface.
//
// Rules:
// - At most one physical connection at a time.
// - Every outstanding request is keyed by a unique ActionID.
// - Reconnecting is the caller's job; the session never retries on its own.
// - Credentials live only in Config; they are never written anywhere else.
type Session struct {
	cfg   Config
	log   *slog.Logger
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	newID func() string

	mu         sync.Mutex
	state      State
	link       *link
	connecting chan struct{}
	lastErr    error
	closed     bool
	pending    map[string]chan result
	collectors map[string]*collector
	listeners  []func(State, error)

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

type Config struct {
	Addr     string
	Username string
	Secret   string

	// ConnectTimeout bounds dial + login. Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	DefaultConnectTimeout = 10 * time.Second

	writeTimeout = 5 * time.Second
)

var (
	ErrAuthentication = errors.New("ami: authentication rejected")
	ErrConnectTimeout = errors.New("ami: connect timeout")
	ErrConnectionLost = errors.New("ami: connection lost")
	ErrNotConnected   = errors.New("ami: not connected")
	ErrClosed         = errors.New("ami: session closed")
	ErrActionFailed   = errors.New("ami: action failed")

	// ErrUnacknowledged marks an action that was written to the PBX but whose
	// response never arrived because the connection went away. The PBX may
	// have acted on it. It is always joined with ErrConnectionLost or ErrClosed.
	ErrUnacknowledged = errors.New("ami: action written but not acknowledged")
)

type result struct {
	msg Message
	err error
}

// link is one physical connection. Writes are serialized; reads happen only
// in the session read loop.
type link struct {
	conn net.Conn

	mu sync.Mutex
	w  *bufio.Writer
}

func (l *link) write(a Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.writeTo(l.w)
}

func NewSession(cfg Config, log *slog.Logger) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	d := &net.Dialer{}
	return &Session{
		cfg:        cfg,
		log:        log.With("component", "ami"),
		dial:       d.DialContext,
		newID:      uuid.NewString,
		state:      StateDisconnected,
		pending:    map[string]chan result{},
		collectors: map[string]*collector{},
		subs:       map[*Subscription]struct{}{},
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn to be called after every state transition.
// Callbacks run outside the session lock and must not block for long.
func (s *Session) OnStateChange(fn func(State, error)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) notify(st State, err error) {
	s.mu.Lock()
	ls := make([]func(State, error), len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(st, err)
	}
}

// Connect establishes and authenticates the connection. It is idempotent:
// a connected session returns nil immediately and concurrent callers wait
// for the attempt already in progress instead of starting another one.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		wait := s.connecting
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateConnected {
			return nil
		}
		if s.lastErr != nil {
			return s.lastErr
		}
		return ErrNotConnected
	}
	s.state = StateConnecting
	s.connecting = make(chan struct{})
	s.mu.Unlock()
	s.notify(StateConnecting, nil)

	l, r, err := s.establish(ctx)

	s.mu.Lock()
	if err == nil && s.closed {
		_ = l.conn.Close()
		err = ErrClosed
	}
	if err != nil {
		s.state = StateDisconnected
		s.lastErr = err
	} else {
		s.state = StateConnected
		s.link = l
		s.lastErr = nil
		go s.readLoop(l, r)
	}
	st := s.state
	close(s.connecting)
	s.connecting = nil
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("ami connect failed", "addr", s.cfg.Addr, "err", err)
	} else {
		s.log.Info("ami connected", "addr", s.cfg.Addr)
	}
	s.notify(st, err)
	return err
}

func (s *Session) establish(ctx context.Context) (*link, *textproto.Reader, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dial(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, nil, s.classifyConnectErr(ctx, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	l := &link{conn: conn, w: bufio.NewWriter(conn)}
	r := textproto.NewReader(bufio.NewReader(conn))

	fail := func(err error) (*link, *textproto.Reader, error) {
		_ = conn.Close()
		return nil, nil, err
	}

	// Banner, e.g. "Asterisk Call Manager/5.0.1".
	if _, err := r.ReadLine(); err != nil {
		return fail(s.classifyConnectErr(ctx, err))
	}

	login := NewAction("Login", "Username", s.cfg.Username, "Secret", s.cfg.Secret, "Events", "on")
	login.ActionID = s.newID()
	if err := l.write(login); err != nil {
		return fail(s.classifyConnectErr(ctx, err))
	}
	for {
		m, err := readMessage(r)
		if err != nil {
			return fail(s.classifyConnectErr(ctx, err))
		}
		if m.Event() != "" || m.ActionID() != login.ActionID {
			continue
		}
		if !m.IsSuccess() {
			return fail(fmt.Errorf("%w: %s", ErrAuthentication, m.Get("Message")))
		}
		break
	}

	_ = conn.SetDeadline(time.Time{})
	return l, r, nil
}

func (s *Session) classifyConnectErr(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("ami: connect %s: %w", s.cfg.Addr, err)
}

func (s *Session) readLoop(l *link, r *textproto.Reader) {
	for {
		m, err := readMessage(r)
		if err != nil {
			s.drop(l, err)
			return
		}
		s.route(m)
	}
}

func (s *Session) route(m Message) {
	id := m.ActionID()
	if m.Event() == "" {
		if id == "" {
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if ok {
			ch <- result{msg: m}
		}
		return
	}
	if id != "" {
		s.mu.Lock()
		c := s.collectors[id]
		s.mu.Unlock()
		if c != nil {
			c.deliver(m)
			return
		}
	}
	s.publish(m)
}

// drop tears down l and fails everything that was waiting on it.
func (s *Session) drop(l *link, cause error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.state = StateDisconnected
	pending := s.pending
	collectors := s.collectors
	s.pending = map[string]chan result{}
	s.collectors = map[string]*collector{}
	failure := ErrConnectionLost
	if s.closed {
		failure = ErrClosed
	}
	s.lastErr = failure
	s.mu.Unlock()

	_ = l.conn.Close()
	for _, ch := range pending {
		ch <- result{err: fmt.Errorf("%w: %w", ErrUnacknowledged, failure)}
	}
	for _, c := range collectors {
		c.abort(failure)
	}

	if failure == ErrClosed {
		s.log.Info("ami session closed")
	} else {
		s.log.Warn("ami connection lost", "addr", s.cfg.Addr, "err", cause, "pending", len(pending))
	}
	s.notify(StateDisconnected, fmt.Errorf("%w: %v", failure, cause))
}

// Submit sends a and waits for its correlated response. Many submissions can
// be in flight at once; each only waits for its own ActionID.
func (s *Session) Submit(ctx context.Context, a Action) (Message, error) {
	if a.ActionID == "" {
		a.ActionID = s.newID()
	}
	ch := make(chan result, 1)

	s.mu.Lock()
	if s.state != StateConnected || s.link == nil {
		s.mu.Unlock()
		return Message{}, ErrNotConnected
	}
	if _, dup := s.pending[a.ActionID]; dup {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("ami: duplicate action id %q", a.ActionID)
	}
	s.pending[a.ActionID] = ch
	l := s.link
	s.mu.Unlock()

	if err := l.write(a); err != nil {
		s.forget(a.ActionID)
		_ = l.conn.Close()
		return Message{}, fmt.Errorf("%w: write %s: %v", ErrConnectionLost, a.Name, err)
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		s.forget(a.ActionID)
		return Message{}, ctx.Err()
	}
}

func (s *Session) forget(actionID string) {
	s.mu.Lock()
	delete(s.pending, actionID)
	s.mu.Unlock()
}

// Collect sends an action whose results arrive as a list of events and
// returns the complete list once completeEvent is seen. A partial list is
// never returned.
func (s *Session) Collect(ctx context.Context, a Action, completeEvent string) ([]Message, error) {
	if a.ActionID == "" {
		a.ActionID = s.newID()
	}
	c := newCollector(completeEvent)
	defer c.abort(context.Canceled)

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.collectors[a.ActionID] = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.collectors[a.ActionID] == c {
			delete(s.collectors, a.ActionID)
		}
		s.mu.Unlock()
	}()

	resp, err := s.Submit(ctx, a)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s: %s", ErrActionFailed, a.Name, resp.Get("Message"))
	}

	select {
	case <-c.done:
		if c.err != nil {
			return nil, c.err
		}
		return c.items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close logs off and closes the connection. The session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.link
	s.mu.Unlock()

	if l == nil {
		return nil
	}
	logoff := NewAction("Logoff")
	logoff.ActionID = s.newID()
	_ = l.write(logoff)
	return l.conn.Close()
}
