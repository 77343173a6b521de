// Package amitest provides an in-process fake PBX manager interface for tests.
package amitest

import (
	"bufio"
	"fmt"
	"net"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
)

const Banner = "Asterisk Call Manager/5.0.1"

// Action is a request received by the server. Keys are lowercase.
type Action map[string]string

func (a Action) Get(key string) string { return a[strings.ToLower(key)] }

// Channel is a live channel reported by CoreShowChannels.
type Channel struct {
	Name     string
	Uniqueid string
	State    string // e.g. "Up", "Ring"
	Duration string // HH:MM:SS
	Context  string
	Exten    string
}

type client struct {
	conn net.Conn
	mu   sync.Mutex
	w    *bufio.Writer
	auth bool
}

func (c *client) send(kv ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(c.w, "%s: %s\r\n", kv[i], kv[i+1])
	}
	c.w.WriteString("\r\n")
	return c.w.Flush()
}

// Server speaks enough of the manager protocol to drive a dialer:
// Login, Originate, Hangup, CoreShowChannels and Logoff.
type Server struct {
	Username string
	Secret   string

	ln net.Listener
	wg sync.WaitGroup

	mu              sync.Mutex
	clients         map[*client]struct{}
	actions         []Action
	logins          int
	channels        map[string]Channel
	rejectOriginate string
	silent          map[string]bool
	closed          bool
}

// NewServer starts a server on a loopback port and stops it on test cleanup.
func NewServer(tb testing.TB, username, secret string) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("amitest: listen: %v", err)
	}
	s := &Server{
		Username: username,
		Secret:   secret,
		ln:       ln,
		clients:  map[*client]struct{}{},
		channels: map[string]Channel{},
		silent:   map[string]bool{},
	}
	s.wg.Add(1)
	go s.accept()
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// SetCredentials changes the accepted login for following connections.
func (s *Server) SetCredentials(username, secret string) {
	s.mu.Lock()
	s.Username, s.Secret = username, secret
	s.mu.Unlock()
}

// RejectOriginate makes every following Originate fail with message.
// An empty message restores acceptance.
func (s *Server) RejectOriginate(message string) {
	s.mu.Lock()
	s.rejectOriginate = message
	s.mu.Unlock()
}

// Silence stops the server from answering the named action (e.g. "Originate").
func (s *Server) Silence(action string, on bool) {
	s.mu.Lock()
	s.silent[strings.ToLower(action)] = on
	s.mu.Unlock()
}

func (s *Server) AddChannel(ch Channel) {
	s.mu.Lock()
	s.channels[ch.Name] = ch
	s.mu.Unlock()
}

func (s *Server) RemoveChannel(name string) {
	s.mu.Lock()
	delete(s.channels, name)
	s.mu.Unlock()
}

// Actions returns received actions, filtered by name when name is non-empty.
func (s *Server) Actions(name string) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Action
	for _, a := range s.actions {
		if name == "" || strings.EqualFold(a.Get("Action"), name) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Emit sends an event to every authenticated client.
func (s *Server) Emit(kv ...string) {
	for _, c := range s.authenticated() {
		_ = c.send(kv...)
	}
}

// DropConnections closes every client connection without a goodbye.
func (s *Server) DropConnections() {
	s.mu.Lock()
	cs := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		cs = append(cs, c)
	}
	s.mu.Unlock()
	for _, c := range cs {
		_ = c.conn.Close()
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) authenticated() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client
	for c := range s.clients {
		if c.auth {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &client{conn: conn, w: bufio.NewWriter(conn)}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c *client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = c.conn.Close()
	}()

	c.mu.Lock()
	c.w.WriteString(Banner + "\r\n")
	err := c.w.Flush()
	c.mu.Unlock()
	if err != nil {
		return
	}

	r := textproto.NewReader(bufio.NewReader(c.conn))
	for {
		a, err := readAction(r)
		if err != nil {
			return
		}
		if !s.handle(c, a) {
			return
		}
	}
}

func readAction(r *textproto.Reader) (Action, error) {
	a := Action{}
	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			if len(a) == 0 {
				continue
			}
			return a, nil
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			continue
		}
		a[strings.ToLower(strings.TrimSpace(line[:i]))] = strings.TrimSpace(line[i+1:])
	}
}

// handle answers one action. It returns false when the connection should end.
func (s *Server) handle(c *client, a Action) bool {
	name := strings.ToLower(a.Get("Action"))
	id := a.Get("ActionID")

	s.mu.Lock()
	s.actions = append(s.actions, a)
	silent := s.silent[name]
	reject := s.rejectOriginate
	user, secret := s.Username, s.Secret
	s.mu.Unlock()

	if silent {
		return true
	}

	switch name {
	case "login":
		if a.Get("Username") != user || a.Get("Secret") != secret {
			_ = c.send("Response", "Error", "ActionID", id, "Message", "Authentication failed")
			return false
		}
		s.mu.Lock()
		c.auth = true
		s.logins++
		s.mu.Unlock()
		_ = c.send("Response", "Success", "ActionID", id, "Message", "Authentication accepted")
	case "logoff":
		_ = c.send("Response", "Goodbye", "ActionID", id, "Message", "Thanks for all the fish.")
		return false
	case "originate":
		if reject != "" {
			_ = c.send("Response", "Error", "ActionID", id, "Message", reject)
			return true
		}
		_ = c.send("Response", "Success", "ActionID", id, "Message", "Originate successfully queued")
	case "hangup":
		ch := a.Get("Channel")
		s.mu.Lock()
		_, ok := s.channels[ch]
		delete(s.channels, ch)
		s.mu.Unlock()
		if !ok {
			_ = c.send("Response", "Error", "ActionID", id, "Message", "No such channel")
			return true
		}
		_ = c.send("Response", "Success", "ActionID", id, "Message", "Channel Hungup")
	case "coreshowchannels":
		s.showChannels(c, id)
	default:
		_ = c.send("Response", "Error", "ActionID", id, "Message", "Invalid/unknown command")
	}
	return true
}

func (s *Server) showChannels(c *client, id string) {
	s.mu.Lock()
	chans := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.Unlock()
	sort.Slice(chans, func(i, j int) bool { return chans[i].Name < chans[j].Name })

	_ = c.send("Response", "Success", "ActionID", id, "EventList", "start", "Message", "Channels will follow")
	for _, ch := range chans {
		_ = c.send(
			"Event", "CoreShowChannel",
			"ActionID", id,
			"Channel", ch.Name,
			"Uniqueid", ch.Uniqueid,
			"ChannelStateDesc", ch.State,
			"Context", ch.Context,
			"Exten", ch.Exten,
			"Duration", ch.Duration,
		)
	}
	_ = c.send(
		"Event", "CoreShowChannelsComplete",
		"ActionID", id,
		"EventList", "Complete",
		"ListItems", fmt.Sprint(len(chans)),
	)
}
