// Package dispatch decodes inbound frames, fans them out to handlers and keeps
// the local log of every message sent or received.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"boardsync/core/channel"
	"boardsync/logger"
	"boardsync/model"

	"go.uber.org/zap"
)

var (
	// ErrChannelUnavailable is returned by Send when the channel is not open.
	ErrChannelUnavailable = fmt.Errorf("sync channel unavailable: %w", channel.ErrNotConnected)
	// ErrMalformedMessage marks an inbound frame that could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")
)

// Sender transmits an encoded frame. *channel.Transport satisfies it.
type Sender interface {
	Send(frame []byte) error
}

// Handler receives every decoded inbound message.
type Handler interface {
	Handle(ctx context.Context, msg *model.WireMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *model.WireMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg *model.WireMessage) error {
	return f(ctx, msg)
}

// HandlerID identifies a registration for RemoveHandler.
type HandlerID uint64

// LogSink mirrors appended log entries somewhere else.
type LogSink interface {
	Append(ctx context.Context, msg model.StoredMessage) error
}

type registration struct {
	id HandlerID
	h  Handler
}

// Registry is the message dispatch registry.
type Registry struct {
	sender Sender
	sink   LogSink
	log    *zap.Logger

	mu           sync.Mutex
	handlers     []registration
	nextID       HandlerID
	history      []model.StoredMessage
	historyLimit int

	malformed atomic.Uint64

	mirror        chan model.StoredMessage
	mirrorCancel  context.CancelFunc
	mirrorDone    chan struct{}
	mirrorDropped atomic.Uint64
	closeOnce     sync.Once
}

// mirrorBuffer bounds how many entries may wait for the sink.
const mirrorBuffer = 1024

// Option configures a Registry.
type Option func(*Registry)

// WithHistoryLimit keeps at most n log entries, dropping the oldest. 0 keeps all.
func WithHistoryLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithLogSink mirrors every log entry to sink from a background goroutine.
// Entries are dropped when the sink falls mirrorBuffer entries behind.
func WithLogSink(sink LogSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// NewRegistry creates a registry sending through sender.
func NewRegistry(sender Sender, opts ...Option) *Registry {
	r := &Registry{
		sender: sender,
		log:    logger.Named("dispatch"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.mirror = make(chan model.StoredMessage, mirrorBuffer)
		r.mirrorCancel = cancel
		r.mirrorDone = make(chan struct{})
		go r.runMirror(ctx)
	}
	return r
}

// Close stops the log mirror. Entries still queued are discarded.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		if r.mirrorCancel == nil {
			return
		}
		r.mirrorCancel()
		<-r.mirrorDone
	})
}

func (r *Registry) runMirror(ctx context.Context) {
	defer close(r.mirrorDone)
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.mirror:
			if err := r.sink.Append(ctx, entry); err != nil && ctx.Err() == nil {
				r.log.Warn("message log mirror failed", zap.Error(err))
			}
		}
	}
}

// AddHandler registers h after all existing handlers.
func (r *Registry) AddHandler(h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers = append(r.handlers, registration{id: r.nextID, h: h})
	return r.nextID
}

// RemoveHandler unregisters id. Unknown ids are ignored.
func (r *Registry) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.handlers {
		if reg.id == id {
			r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
			return
		}
	}
}

// HandleFrame decodes raw and delivers it to every handler in registration
// order. Malformed frames are logged and dropped without touching the log.
func (r *Registry) HandleFrame(ctx context.Context, raw []byte) {
	var msg model.WireMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Method == "" {
		if err == nil {
			err = errors.New("missing method")
		}
		n := r.malformed.Add(1)
		r.log.Warn("dropping inbound frame",
			zap.Error(fmt.Errorf("%w: %v", ErrMalformedMessage, err)),
			zap.Int("size", len(raw)),
			zap.Uint64("malformed_total", n))
		return
	}

	r.record(model.NewStoredMessage(msg, model.DirectionReceived))

	r.mu.Lock()
	snapshot := make([]registration, len(r.handlers))
	copy(snapshot, r.handlers)
	r.mu.Unlock()

	for _, reg := range snapshot {
		r.invoke(ctx, reg, &msg)
	}
}

func (r *Registry) invoke(ctx context.Context, reg registration, msg *model.WireMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panicked",
				zap.Uint64("handler", uint64(reg.id)),
				zap.String("method", msg.Method),
				zap.Any("panic", p))
		}
	}()
	if err := reg.h.Handle(ctx, msg); err != nil {
		r.log.Warn("handler failed",
			zap.Uint64("handler", uint64(reg.id)),
			zap.String("method", msg.Method),
			zap.Error(err))
	}
}

// Send encodes payload under method and transmits it. The message is logged
// only when the transport accepted it.
func (r *Registry) Send(ctx context.Context, method string, payload any) error {
	var body json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		body = p
	case nil:
		body = json.RawMessage("{}")
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", method, err)
		}
		body = data
	}

	msg := model.WireMessage{Method: method, Payload: body}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", method, err)
	}
	if err := r.sender.Send(frame); err != nil {
		if errors.Is(err, channel.ErrNotConnected) {
			return ErrChannelUnavailable
		}
		return fmt.Errorf("send %s: %w", method, err)
	}

	r.record(model.NewStoredMessage(msg, model.DirectionSent))
	return nil
}

func (r *Registry) record(entry model.StoredMessage) {
	r.mu.Lock()
	r.history = append(r.history, entry)
	if r.historyLimit > 0 && len(r.history) > r.historyLimit {
		drop := len(r.history) - r.historyLimit
		r.history = append(r.history[:0:0], r.history[drop:]...)
	}
	r.mu.Unlock()

	if r.mirror == nil {
		return
	}
	select {
	case r.mirror <- entry:
	default:
		n := r.mirrorDropped.Add(1)
		r.log.Warn("message log mirror behind, dropping entry",
			zap.String("method", entry.Method),
			zap.Uint64("dropped_total", n))
	}
}

// Messages returns a copy of the log, oldest first.
func (r *Registry) Messages() []model.StoredMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.StoredMessage, len(r.history))
	copy(out, r.history)
	return out
}

// ClearLog empties the log.
func (r *Registry) ClearLog() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}

// MirrorDropped reports how many log entries were not mirrored because the
// sink fell behind.
func (r *Registry) MirrorDropped() uint64 {
	return r.mirrorDropped.Load()
}

// MalformedCount reports how many inbound frames were dropped as malformed.
func (r *Registry) MalformedCount() uint64 {
	return r.malformed.Load()
}
