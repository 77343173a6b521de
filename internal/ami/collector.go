package ami

import (
	"strings"
	"sync"
)

// collector aggregates the unsolicited event list that follows an action
// (e.g. CoreShowChannels) until its completion event arrives. It runs as its
// own goroutine; the read loop only hands messages to its inbox.
type collector struct {
	complete string

	inbox chan Message
	quit  chan struct{}
	done  chan struct{}

	once     sync.Once
	quitOnce sync.Once
	items    []Message
	err      error
}

func newCollector(complete string) *collector {
	c := &collector{
		complete: complete,
		inbox:    make(chan Message, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *collector) run() {
	for {
		select {
		case m := <-c.inbox:
			if c.isComplete(m) {
				c.finish(nil)
				return
			}
			c.items = append(c.items, m)
		case <-c.quit:
			return
		}
	}
}

func (c *collector) isComplete(m Message) bool {
	if strings.EqualFold(m.Event(), c.complete) {
		return true
	}
	return strings.EqualFold(m.Get("EventList"), "Complete")
}

// deliver blocks until the collector accepts the message or has stopped.
func (c *collector) deliver(m Message) {
	select {
	case c.inbox <- m:
	case <-c.quit:
	case <-c.done:
	}
}

func (c *collector) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// abort stops the collector with err unless it already finished.
func (c *collector) abort(err error) {
	c.finish(err)
	c.quitOnce.Do(func() { close(c.quit) })
}
