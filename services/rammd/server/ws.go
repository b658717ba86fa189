package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"ramm/core/events"
	"ramm/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamEvent is the JSON frame written to event stream subscribers.
type StreamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Time       int64             `json:"time"`
}

// Hub fans committed engine events out to websocket subscribers. Slow
// subscribers lose events rather than stalling the executor.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	now    func() time.Time
	closed bool
}

type subscriber struct {
	ch     chan StreamEvent
	filter map[string]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), now: time.Now}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	rendered := events.Render(evt)
	observability.Events().RecordEvent(rendered.Type)
	frame := StreamEvent{Type: rendered.Type, Attributes: rendered.Attributes, Time: h.now().Unix()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(frame.Type) {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			observability.Events().RecordDrop()
		}
	}
}

// Subscribe registers a subscriber for the listed event types, or every type
// when none are given. The returned cancel func must be called.
func (h *Hub) Subscribe(types ...string) (<-chan StreamEvent, func()) {
	sub := &subscriber{ch: make(chan StreamEvent, subscriberBuffer)}
	if len(types) > 0 {
		sub.filter = make(map[string]struct{}, len(types))
		for _, t := range types {
			if t = strings.TrimSpace(t); t != "" {
				sub.filter[t] = struct{}{}
			}
		}
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	observability.Events().SetSubscribers(len(h.subs))
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			observability.Events().SetSubscribers(len(h.subs))
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	observability.Events().SetSubscribers(0)
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[eventType]
	return ok
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var types []string
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		types = strings.Split(raw, ",")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	updates, cancel := s.hub.Subscribe(types...)
	defer cancel()
	// Reads are only needed to observe client close frames.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan StreamEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
