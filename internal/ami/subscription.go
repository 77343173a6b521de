package ami

import (
	"strings"
	"sync"
)

const subscriptionBuffer = 1024

// Subscription is a feed of unsolicited events. It outlives reconnects.
//
// C is never closed; consumers should also select on Done.
type Subscription struct {
	C <-chan Message

	ch     chan Message
	types  map[string]struct{}
	closed chan struct{}
	once   sync.Once
	s      *Session
}

// Subscribe returns a feed of events whose type is one of types, or of every
// event when types is empty. A slow consumer applies backpressure to the read
// loop rather than losing events.
func (s *Session) Subscribe(types ...string) *Subscription {
	sub := &Subscription{
		ch:     make(chan Message, subscriptionBuffer),
		closed: make(chan struct{}),
		s:      s,
	}
	sub.C = sub.ch
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[strings.ToLower(t)] = struct{}{}
		}
	}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

func (sub *Subscription) Done() <-chan struct{} { return sub.closed }

func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.s.subMu.Lock()
		delete(sub.s.subs, sub)
		sub.s.subMu.Unlock()
		close(sub.closed)
	})
}

func (sub *Subscription) wants(event string) bool {
	if sub.types == nil {
		return true
	}
	_, ok := sub.types[strings.ToLower(event)]
	return ok
}

func (s *Session) publish(m Message) {
	ev := m.Event()
	s.subMu.RLock()
	targets := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		if sub.wants(ev) {
			targets = append(targets, sub)
		}
	}
	s.subMu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- m:
		case <-sub.closed:
		}
	}
}
