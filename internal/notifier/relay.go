package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"ezywork/internal/logging"
)

// Relay shares one logical notifier between server instances. Publish goes
// to a NATS subject; every instance, the publisher included, feeds what it
// receives into its local Hub.
type Relay struct {
	nc      *nats.Conn
	subject string
	hub     *Hub
	log     *slog.Logger
	sub     *nats.Subscription

	onPresence  func(workerID string)
	presenceSub *nats.Subscription
}

func NewRelay(nc *nats.Conn, subject string, hub *Hub, log *slog.Logger) *Relay {
	if log == nil {
		log = logging.Discard()
	}
	return &Relay{nc: nc, subject: subject, hub: hub, log: log}
}

// Start subscribes to the relay subject. Messages on one subscription are
// handled sequentially, which keeps per-publisher order.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe(r.subject, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	r.sub = sub
	if r.onPresence != nil {
		psub, err := r.nc.Subscribe(r.presenceSubject(), r.handlePresence)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", r.presenceSubject(), err)
		}
		r.presenceSub = psub
	}
	if err := r.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}
	return nil
}

func (r *Relay) handle(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("relay: bad message", "subject", msg.Subject, "err", err)
		return
	}
	n := r.hub.Broadcast(ev.Category, ev)
	r.log.Debug("relay: event broadcast", "type", ev.Type, "channel", ev.Category, "delivered", n)
}

// Publish sends ev for category to every instance.
func (r *Relay) Publish(_ context.Context, category string, ev Event) error {
	ev.Category = channelKey(category)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", r.subject, err)
	}
	return nil
}

// OnPresence registers fn to run whenever any instance announces that a
// worker's presence changed. Must be called before Start.
func (r *Relay) OnPresence(fn func(workerID string)) {
	r.onPresence = fn
}

// AnnouncePresence tells every instance, this one included, to resync the
// live connections of workerID.
func (r *Relay) AnnouncePresence(_ context.Context, workerID string) error {
	if err := r.nc.Publish(r.presenceSubject(), []byte(workerID)); err != nil {
		return fmt.Errorf("publish %s: %w", r.presenceSubject(), err)
	}
	return nil
}

func (r *Relay) presenceSubject() string { return r.subject + ".presence" }

func (r *Relay) handlePresence(msg *nats.Msg) {
	workerID := strings.TrimSpace(string(msg.Data))
	if workerID == "" {
		return
	}
	r.onPresence(workerID)
}

// Close drops the subscriptions. The NATS connection belongs to the caller.
func (r *Relay) Close() error {
	var errs []error
	for _, sub := range []*nats.Subscription{r.sub, r.presenceSub} {
		if sub != nil {
			errs = append(errs, sub.Unsubscribe())
		}
	}
	return errors.Join(errs...)
}
