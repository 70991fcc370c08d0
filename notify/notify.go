// Package notify debounces and merges the user-facing notifications
// raised by quest and pin state changes.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies a notification.
type Kind string

const (
	KindQuestPinned        Kind = "questPinned"
	KindActiveObjective    Kind = "activeObjective"
	KindObjectiveCompleted Kind = "objectiveCompleted"
	KindQuestCompleted     Kind = "questCompleted"
)

// Persistent kinds keep at most one live notification, updated in
// place. The rest are fire-and-forget and auto-expire client-side.
func (k Kind) Persistent() bool {
	return k == KindQuestPinned || k == KindActiveObjective
}

// Notification is one user-facing message.
type Notification struct {
	Kind  Kind                   `json:"kind"`
	Title string                 `json:"title"`
	Body  string                 `json:"body,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Channel delivers notifications to one user. Create returns a handle
// that Update can address later; an Update against a dead handle
// returns an error and the caller falls back to Create.
type Channel interface {
	Create(ctx context.Context, userID string, n Notification) (string, error)
	Update(ctx context.Context, userID, handle string, n Notification) error
}

// State is the per-session notification memory: the live handle per
// persistent kind plus any pending debounce timers. Created when the
// session starts, closed when it ends; never shared between sessions.
type State struct {
	mu      sync.Mutex
	handles map[Kind]string
	pending map[Kind]*pendingCall
	closed  bool
}

type pendingCall struct {
	timer   *time.Timer
	payload Notification
}

func NewState() *State {
	return &State{
		handles: make(map[Kind]string),
		pending: make(map[Kind]*pendingCall),
	}
}

// Close cancels pending deliveries and drops remembered handles.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, p := range s.pending {
		p.timer.Stop()
	}
	s.pending = map[Kind]*pendingCall{}
	s.handles = map[Kind]string{}
}

// Coalescer debounces notification calls per (session, kind): rapid
// repeats reset the window and only the final payload is delivered.
type Coalescer struct {
	ch       Channel
	debounce time.Duration
	logger   *zap.Logger
}

// NewCoalescer builds a coalescer. A non-positive debounce delivers
// synchronously, which tests rely on.
func NewCoalescer(ch Channel, debounce time.Duration, logger *zap.Logger) *Coalescer {
	return &Coalescer{ch: ch, debounce: debounce, logger: logger}
}

// Notify schedules n for delivery. Calls for the same kind within the
// debounce window are merged, last payload wins. Channel failures are
// logged and never propagate to the state change that triggered them.
func (c *Coalescer) Notify(st *State, userID string, n Notification) {
	if c.debounce <= 0 {
		c.deliver(st, userID, n)
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	if p, ok := st.pending[n.Kind]; ok {
		p.payload = n
		p.timer.Reset(c.debounce)
		return
	}
	p := &pendingCall{payload: n}
	kind := n.Kind
	p.timer = time.AfterFunc(c.debounce, func() {
		st.mu.Lock()
		cur, ok := st.pending[kind]
		if ok {
			delete(st.pending, kind)
		}
		closed := st.closed
		st.mu.Unlock()
		if !ok || closed {
			return
		}
		c.deliver(st, userID, cur.payload)
	})
	st.pending[kind] = p
}

func (c *Coalescer) deliver(st *State, userID string, n Notification) {
	ctx := context.Background()

	if n.Kind.Persistent() {
		st.mu.Lock()
		handle := st.handles[n.Kind]
		st.mu.Unlock()
		if handle != "" {
			if err := c.ch.Update(ctx, userID, handle, n); err == nil {
				return
			}
			// Handle went stale, fall through to a fresh create.
		}
	}
	handle, err := c.ch.Create(ctx, userID, n)
	if err != nil {
		c.logger.Warn("notification delivery failed",
			zap.String("kind", string(n.Kind)),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if n.Kind.Persistent() {
		st.mu.Lock()
		st.handles[n.Kind] = handle
		st.mu.Unlock()
	}
}
