package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"ezywork/internal/logging"
	"ezywork/internal/metrics"
)

// Event types fanned out to category channels.
const (
	EventNewProblem       = "new-problem"
	EventProblemAssigned  = "problem-assigned"
	EventProblemCancelled = "problem-cancelled"
)

// Event is what a subscribed connection receives.
type Event struct {
	Type     string          `json:"type"`
	Category string          `json:"category"`
	Problem  json.RawMessage `json:"problem,omitempty"`
}

// Conn is one live worker connection. Events are queued on a bounded
// buffer; the transport drains it through Events.
type Conn struct {
	id     string
	worker string
	send   chan Event
	done   chan struct{}
	missed atomic.Int32

	// guarded by Hub.mu
	rooms  map[string]struct{}
	closed bool
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) Worker() string { return c.worker }

// Events is closed once the connection is disconnected.
func (c *Conn) Events() <-chan Event { return c.send }

// Done is closed once the connection is disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Hub keeps the category -> connections index and fans events out to it.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns *xsync.Map[string, *Conn]

	// serializes Broadcast so every subscriber sees the same order
	pubMu sync.Mutex

	buffer    int
	maxMissed int32
	log       *slog.Logger
	metrics   metrics.Recorder
}

type Option func(*Hub)

// WithBuffer sets the per-connection queue size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMaxMissed evicts a connection after n consecutive dropped events.
// Zero disables eviction.
func WithMaxMissed(n int) Option {
	return func(h *Hub) { h.maxMissed = int32(n) }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:     make(map[string]map[*Conn]struct{}),
		conns:     xsync.NewMap[string, *Conn](),
		buffer:    64,
		maxMissed: 32,
		log:       logging.Discard(),
		metrics:   metrics.Nop{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Connect registers a new connection for workerID. It starts with no
// subscriptions.
func (h *Hub) Connect(workerID string) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		worker: workerID,
		send:   make(chan Event, h.buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
	h.conns.Store(c.id, c)
	h.metrics.ConnectionOpened()
	h.log.Debug("connection opened", "conn", c.id, "worker", workerID)
	return c
}

// Disconnect drops c from every channel and closes its queue. Safe to call
// more than once.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	for room := range c.rooms {
		h.removeLocked(c, room)
	}
	close(c.send)
	close(c.done)
	h.mu.Unlock()

	h.conns.Delete(c.id)
	h.metrics.ConnectionClosed()
	h.log.Debug("connection closed", "conn", c.id, "worker", c.worker)
}

// Conn looks up a live connection by id.
func (h *Hub) Conn(id string) (*Conn, bool) {
	return h.conns.Load(id)
}

// ConnsOf returns the live connections owned by workerID.
func (h *Hub) ConnsOf(workerID string) []*Conn {
	var out []*Conn
	h.conns.Range(func(_ string, c *Conn) bool {
		if c.worker == workerID {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Subscribe adds c to category. No-op if already subscribed or c is closed.
func (h *Hub) Subscribe(c *Conn, category string) {
	key := channelKey(category)
	if key == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.rooms[key]; ok {
		return
	}
	room := h.rooms[key]
	if room == nil {
		room = make(map[*Conn]struct{})
		h.rooms[key] = room
	}
	room[c] = struct{}{}
	c.rooms[key] = struct{}{}
	h.metrics.SubscriptionAdded()
}

// Unsubscribe removes c from category. No-op if absent.
func (h *Hub) Unsubscribe(c *Conn, category string) {
	key := channelKey(category)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[key]; !ok {
		return
	}
	h.removeLocked(c, key)
}

// Sync makes c subscribed to exactly categories.
func (h *Hub) Sync(c *Conn, categories []string) {
	want := make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		if key := channelKey(cat); key != "" {
			want[key] = struct{}{}
		}
	}
	for _, cur := range h.Channels(c) {
		if _, ok := want[cur]; !ok {
			h.Unsubscribe(c, cur)
		}
	}
	for key := range want {
		h.Subscribe(c, key)
	}
}

func (h *Hub) removeLocked(c *Conn, key string) {
	delete(c.rooms, key)
	if room := h.rooms[key]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, key)
		}
	}
	h.metrics.SubscriptionRemoved()
}

// Channels lists the channels c is subscribed to, sorted.
func (h *Hub) Channels(c *Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for k := range c.rooms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Subscribers counts the connections subscribed to category.
func (h *Hub) Subscribers(category string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelKey(category)])
}

// Broadcast queues ev on every connection subscribed to category and
// returns how many accepted it. It never blocks on a slow consumer: a full
// queue drops the event for that connection, and a connection that keeps
// missing events is disconnected.
func (h *Hub) Broadcast(category string, ev Event) int {
	key := channelKey(category)
	if key == "" {
		return 0
	}
	ev.Category = key

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	var (
		delivered int
		stale     []*Conn
	)
	h.mu.RLock()
	for c := range h.rooms[key] {
		select {
		case c.send <- ev:
			c.missed.Store(0)
			delivered++
			h.metrics.Delivery(metrics.Delivered)
		default:
			h.metrics.Delivery(metrics.Dropped)
			if n := c.missed.Add(1); h.maxMissed > 0 && n >= h.maxMissed {
				stale = append(stale, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.log.Warn("evicting unresponsive connection", "conn", c.id, "worker", c.worker)
		h.Disconnect(c)
	}
	return delivered
}

// Publish delivers in-process. It satisfies the publisher contract the
// problem store depends on.
func (h *Hub) Publish(_ context.Context, category string, ev Event) error {
	n := h.Broadcast(category, ev)
	h.log.Debug("event broadcast", "type", ev.Type, "channel", category, "delivered", n)
	return nil
}

// Close disconnects every live connection.
func (h *Hub) Close() {
	h.conns.Range(func(_ string, c *Conn) bool {
		h.Disconnect(c)
		return true
	})
}

func channelKey(category string) string {
	return strings.TrimSpace(category)
}
