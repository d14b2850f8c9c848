package progress

import (
	"sync"
	"time"

	"smart-gallery/internal/metrics"
)

const (
	// DefaultBuffer is the per-listener queue depth.
	DefaultBuffer = 64

	// DefaultIdleTimeout is how long a finished channel waits for a listener
	// before tearing itself down.
	DefaultIdleTimeout = 2 * time.Minute
)

// Phase names the stage a session is in.
type Phase string

const (
	PhaseScanning   Phase = "scanning"
	PhaseProcessing Phase = "processing"
	PhaseCommitting Phase = "committing"
	PhaseDeleting   Phase = "deleting"
	PhaseDone       Phase = "done"
)

// Event is one progress update. Done marks the terminal event.
type Event struct {
	SessionID string `json:"sessionId"`
	FolderKey string `json:"folderKey,omitempty"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Phase     Phase  `json:"phase"`
	Message   string `json:"message,omitempty"`
	Failures  int    `json:"failures"`
	Done      bool   `json:"done"`
	State     string `json:"state,omitempty"`
}

// Channel fans events from a single producer out to any number of
// listeners. Publish never blocks: a listener that falls behind loses its
// oldest queued update, but the terminal event always reaches every
// listener, including ones that subscribe after it was published.
type Channel struct {
	mu          sync.Mutex
	listeners   map[int]*listener
	nextID      int
	last        *Event
	terminal    *Event
	closed      bool
	done        chan struct{}
	idleTimeout time.Duration
	idleTimer   *time.Timer
	onClose     func()
}

type listener struct {
	ch     chan Event
	closed bool
}

// New creates a channel. onClose, if set, runs once in its own goroutine
// when the channel tears down: after the terminal event once every listener
// has gone, or after idleTimeout with no listener attached.
func New(idleTimeout time.Duration, onClose func()) *Channel {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Channel{
		listeners:   make(map[int]*listener),
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
		onClose:     onClose,
	}
}

// Publish delivers ev to every listener. Events published after the
// terminal event are dropped.
func (c *Channel) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminal != nil {
		return
	}

	if ev.Done {
		c.terminal = &ev
		for _, l := range c.listeners {
			offer(l.ch, ev)
			close(l.ch)
			l.closed = true
		}
		if len(c.listeners) == 0 {
			c.armIdleLocked()
		}
		return
	}

	c.last = &ev
	for _, l := range c.listeners {
		offer(l.ch, ev)
	}
}

// offer sends ev without blocking, evicting the oldest queued event when
// the buffer is full. Only Publish sends, under the channel lock, so the
// second send cannot fail after an eviction.
func offer(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe attaches a listener. The returned channel first yields the most
// recent event, if any, and is closed after the terminal event. cancel
// detaches the listener and is safe to call more than once.
func (c *Channel) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, DefaultBuffer)

	if c.terminal != nil {
		ch <- *c.terminal
		close(ch)
		if !c.closed {
			c.armIdleLocked()
		}
		return ch, func() {}
	}

	if c.last != nil {
		ch <- *c.last
	}

	id := c.nextID
	c.nextID++
	c.listeners[id] = &listener{ch: ch}
	metrics.ProgressListeners.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

func (c *Channel) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listeners[id]
	if !ok {
		return
	}
	delete(c.listeners, id)
	metrics.ProgressListeners.Dec()
	if !l.closed {
		close(l.ch)
	}

	if c.terminal != nil && len(c.listeners) == 0 {
		c.closeLocked()
	}
}

func (c *Channel) armIdleLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.idleTimeout)
		return
	}
	c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.listeners) == 0 {
			c.closeLocked()
		}
	})
}

func (c *Channel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	close(c.done)
	if c.onClose != nil {
		go c.onClose()
	}
}

// Terminal returns the terminal event once it has been published.
func (c *Channel) Terminal() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal == nil {
		return Event{}, false
	}
	return *c.terminal, true
}

// Listeners reports how many listeners are attached.
func (c *Channel) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Closed is closed when the channel has torn down.
func (c *Channel) Closed() <-chan struct{} {
	return c.done
}
