// Package api provides the HTTP API: history queries, live state, the SSE
// stream and Prometheus metrics.
package api

import (
	"log/slog"
	"sync"

	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/store"
)

const (
	defaultSubscriberBufferSize = 16
	defaultBroadcastBufferSize  = 64
)

// SSE event names for non-record messages.
const (
	MessageNotification = "notification"
)

// Message is one item pushed to stream subscribers.
// ID is empty for messages that cannot be replayed.
type Message struct {
	ID   string
	Name string
	Data any
}

// RecordMessage wraps a stored event. Its ID doubles as a replay cursor.
func RecordMessage(r *event.Record) *Message {
	if r == nil {
		return nil
	}
	return &Message{
		ID:   store.EncodeCursor(r.Ts, r.ID),
		Name: string(r.Type),
		Data: r,
	}
}

// notificationPayload is the JSON form of a derive.Notification.
type notificationPayload struct {
	Type       string   `json:"type"`
	Ts         string   `json:"ts"`
	PeerID     string   `json:"peer_id"`
	Character  string   `json:"character,omitempty"`
	DurationMS *float64 `json:"duration_ms,omitempty"`
}

// NotificationMessage wraps a correlator notification.
func NotificationMessage(n derive.Notification) *Message {
	p := notificationPayload{
		Type:      n.Type.String(),
		Ts:        n.Time.UTC().Format(store.TimeFormat),
		PeerID:    n.PeerLabel(),
		Character: n.Character,
	}
	if n.Type == derive.NotifyWorldSaved {
		d := n.DurationMS
		p.DurationMS = &d
	}
	return &Message{Name: MessageNotification, Data: p}
}

// Subscriber represents an SSE client connection.
type Subscriber struct {
	messages chan *Message
	done     chan struct{}
}

// Messages returns the channel for receiving messages.
func (s *Subscriber) Messages() <-chan *Message {
	return s.messages
}

// Done returns a channel that is closed when the subscriber is unsubscribed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub manages SSE subscribers and broadcasts messages.
// A single goroutine owns the subscriber set.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *Message
	stop       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once

	subscriberBufferSize int
	logger               *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubSubscriberBufferSize sets the buffer size for subscriber channels.
func WithHubSubscriberBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.subscriberBufferSize = size
		}
	}
}

// WithHubLogger sets the logger for the Hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new SSE hub. Call Run to start it.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		register:             make(chan *Subscriber),
		unregister:           make(chan *Subscriber),
		broadcast:            make(chan *Message, defaultBroadcastBufferSize),
		stop:                 make(chan struct{}),
		stopped:              make(chan struct{}),
		subscriberBufferSize: defaultSubscriberBufferSize,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's event loop. It blocks until Stop is called.
func (h *Hub) Run() {
	clients := make(map[*Subscriber]struct{})
	defer close(h.stopped)

	for {
		select {
		case sub := <-h.register:
			clients[sub] = struct{}{}
			h.logger.Debug("subscriber registered", "count", len(clients))

		case sub := <-h.unregister:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				close(sub.done)
				close(sub.messages)
				h.logger.Debug("subscriber unregistered", "count", len(clients))
			}

		case m := <-h.broadcast:
			for sub := range clients {
				select {
				case sub.messages <- m:
				default:
					h.logger.Warn("subscriber channel full, message dropped", "name", m.Name, "id", m.ID)
				}
			}

		case <-h.stop:
			for sub := range clients {
				close(sub.done)
				close(sub.messages)
			}
			return
		}
	}
}

// Stop stops the event loop and waits for it to exit. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.stopped
}

// Subscribe creates a new subscriber.
// The caller must call Unsubscribe when done.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		messages: make(chan *Message, h.subscriberBufferSize),
		done:     make(chan struct{}),
	}

	select {
	case h.register <- sub:
		return sub
	case <-h.stopped:
		close(sub.done)
		close(sub.messages)
		return sub
	}
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	select {
	case h.unregister <- sub:
	case <-h.stopped:
	}
}

// Publish queues m for all subscribers. Never blocks; a full broadcast
// buffer drops the message.
func (h *Hub) Publish(m *Message) {
	if m == nil {
		return
	}

	select {
	case h.broadcast <- m:
	case <-h.stopped:
	default:
		h.logger.Warn("broadcast channel full, message dropped", "name", m.Name, "id", m.ID)
	}
}

// PublishRecord publishes a stored event.
func (h *Hub) PublishRecord(r *event.Record) {
	h.Publish(RecordMessage(r))
}

// PublishNotifications publishes correlator notifications in order.
func (h *Hub) PublishNotifications(notes []derive.Notification) {
	for _, n := range notes {
		h.Publish(NotificationMessage(n))
	}
}
