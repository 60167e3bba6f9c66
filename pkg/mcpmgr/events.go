package mcpmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/tooladapter"
)

// EventName identifies a manager lifecycle event.
type EventName string

const (
	EventServerConnected    EventName = "server_connected"
	EventServerDisconnected EventName = "server_disconnected"
	EventToolsUpdated       EventName = "tools_updated"
	EventToolExecuted       EventName = "tool_executed"
	EventError              EventName = "error"
)

// Event is delivered to subscribers. Fields irrelevant to Name are zero.
type Event struct {
	Name   EventName
	Time   time.Time
	Server string

	// Tool events.
	ToolID      string
	ToolName    string
	ExecutionID string
	Arguments   map[string]any
	Result      *tooladapter.Result
	Duration    time.Duration

	// tools_updated: the server's current tool ids and those that vanished.
	Tools   []string
	Removed []string

	// error, and server_disconnected after an unexpected session loss.
	Err error
}

// Handler receives events. A returned error or a panic is logged and does
// not stop delivery to later handlers.
type Handler func(context.Context, Event) error

// Subscription identifies a registered handler for Off.
type Subscription uint64

type subscriber struct {
	id      Subscription
	handler Handler
}

// EventBus is an ordered, panic-isolated pub/sub keyed by EventName.
type EventBus struct {
	mu       sync.RWMutex
	nextID   Subscription
	handlers map[EventName][]subscriber
	logger   *slog.Logger
}

// NewEventBus returns an empty bus logging handler failures to logger.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{handlers: make(map[EventName][]subscriber), logger: logger}
}

// On appends handler to the subscribers of name.
func (b *EventBus) On(name EventName, handler Handler) Subscription {
	if handler == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], subscriber{id: b.nextID, handler: handler})
	return b.nextID
}

// Off removes a subscription. It reports whether one was removed.
func (b *EventBus) Off(name EventName, sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id != sub {
			continue
		}
		next := make([]subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		b.handlers[name] = next
		return true
	}
	return false
}

// Emit delivers ev to every subscriber of ev.Name in registration order.
// Handlers run on the caller's goroutine without the bus lock held.
func (b *EventBus) Emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.handlers[ev.Name]
	b.mu.RUnlock()
	for _, s := range subs {
		b.deliver(ctx, s, ev)
	}
}

func (b *EventBus) deliver(ctx context.Context, s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(ev.Name), "subscription", uint64(s.id), "panic", fmt.Sprint(r))
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		b.logger.Error("event handler failed",
			"event", string(ev.Name), "subscription", uint64(s.id), "error", err)
	}
}
