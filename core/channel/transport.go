package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"boardsync/logger"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectDelay = 3000 * time.Millisecond

	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 1 << 20
	sendBufferSize   = 256
)

var (
	ErrNotConnected   = errors.New("channel is not connected")
	ErrSendBufferFull = errors.New("channel send buffer is full")
)

// Conn is the part of *websocket.Conn the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d.
type AfterFunc func(d time.Duration, fn func()) Timer

// EventKind tells the owner what happened on the channel.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on Transport.Events.
type Event struct {
	Kind     EventKind
	Data     []byte // EventMessage
	Code     int    // EventClose
	Reason   string // EventClose
	WasClean bool   // EventClose
	Err      error  // EventError
}

// Options configures a Transport. Zero values take defaults.
type Options struct {
	BaseURL        string
	Path           string
	ReconnectDelay time.Duration
	Dial           DialFunc
	AfterFunc      AfterFunc
	EventBuffer    int
}

// link is one live connection and its write queue.
type link struct {
	conn     Conn
	gen      uint64
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	wmu      sync.Mutex // gorilla allows one concurrent writer
}

func (l *link) halt() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *link) write(messageType int, data []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(messageType, data)
}

// Transport is a single logical WebSocket channel with at most one live
// connection. Unintended closures are followed by exactly one reconnect
// attempt after ReconnectDelay.
type Transport struct {
	baseURL   string
	path      string
	dial      DialFunc
	afterFunc AfterFunc

	mu             sync.Mutex
	m              machine
	token          string
	reconnectDelay time.Duration
	link           *link
	gen            uint64
	timer          Timer
	timerID        uint64
	lastClose      Event

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewTransport builds an idle transport.
func NewTransport(opts Options) *Transport {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dial == nil {
		opts.Dial = DefaultDial
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = sendBufferSize
	}
	return &Transport{
		baseURL:        opts.BaseURL,
		path:           opts.Path,
		dial:           opts.Dial,
		afterFunc:      opts.AfterFunc,
		reconnectDelay: opts.ReconnectDelay,
		events:         make(chan Event, opts.EventBuffer),
		done:           make(chan struct{}),
	}
}

// DefaultDial dials with gorilla's client and a bounded handshake.
func DefaultDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Events returns the channel the owner reads open/message/close/error from.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// State reports the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m.state
}

// ReconnectPending reports whether a reconnect attempt is scheduled.
func (t *Transport) ReconnectPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m.reconnectPending
}

// SetReconnectDelay changes the delay used for the next scheduled attempt.
func (t *Transport) SetReconnectDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.reconnectDelay = d
	t.mu.Unlock()
}

// Connect opens the channel. It is a no-op while a connection is open or
// being established. The token is remembered for reconnect attempts.
func (t *Transport) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	if t.m.state == StateOpen || t.m.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.token = token
	effs := t.apply(inputConnect)
	t.mu.Unlock()

	if !hasEffect(effs, effectDial) {
		return nil
	}
	return t.dialAndOpen(ctx)
}

// Disconnect closes the channel with a normal closure and cancels any pending
// reconnect. No reconnect follows.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.lastClose = Event{Kind: EventClose, Code: websocket.CloseNormalClosure, Reason: "client disconnect", WasClean: true}
	l := t.link
	effs := t.apply(inputDisconnect)
	t.mu.Unlock()

	if hasEffect(effs, effectCloseConn) && l != nil {
		t.closeLink(l, true)
	}
	if hasEffect(effs, effectEmitClose) {
		t.emit(t.closeEvent())
	}
}

// Shutdown disconnects and stops event delivery. The transport cannot be
// reused afterwards.
func (t *Transport) Shutdown() {
	t.once.Do(func() { close(t.done) })
	t.Disconnect()
}

// Send queues one text frame. It fails with ErrNotConnected unless the
// channel is open.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	if t.m.state != StateOpen || t.link == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	l := t.link
	t.mu.Unlock()

	select {
	case <-l.stop:
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// apply runs one state-machine step and performs the timer effects.
// Caller holds t.mu.
func (t *Transport) apply(in input) []effect {
	next, effs := step(t.m, in)
	t.m = next
	for _, e := range effs {
		switch e {
		case effectCancelReconnect:
			if t.timer != nil {
				t.timer.Stop()
				t.timer = nil
			}
			t.timerID++
		case effectScheduleReconnect:
			t.timerID++
			id := t.timerID
			delay := t.reconnectDelay
			t.timer = t.afterFunc(delay, func() { t.reconnect(id) })
			logger.Info("channel reconnect scheduled", logger.Duration("delay", delay))
		}
	}
	return effs
}

func (t *Transport) reconnect(id uint64) {
	t.mu.Lock()
	if id != t.timerID {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	effs := t.apply(inputTimerFired)
	t.mu.Unlock()

	if !hasEffect(effs, effectDial) {
		return
	}
	logger.Info("channel reconnecting")
	if err := t.dialAndOpen(context.Background()); err != nil {
		logger.Warn("channel reconnect failed", logger.ErrorField(err))
	}
}

func (t *Transport) dialAndOpen(ctx context.Context) error {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()

	target, err := SyncURL(t.baseURL, t.path, token)
	if err == nil {
		dctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		var conn Conn
		conn, err = t.dial(dctx, target)
		cancel()
		if err == nil {
			t.opened(conn)
			return nil
		}
	}

	t.mu.Lock()
	t.lastClose = Event{Kind: EventClose, Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	effs := t.apply(inputDialFailed)
	t.mu.Unlock()

	if hasEffect(effs, effectEmitClose) {
		t.emit(Event{Kind: EventError, Err: err})
		t.emit(t.closeEvent())
	}
	return err
}

func (t *Transport) opened(conn Conn) {
	t.mu.Lock()
	effs := t.apply(inputDialOK)
	if !hasEffect(effs, effectEmitOpen) {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.gen++
	l := &link{
		conn: conn,
		gen:  t.gen,
		send: make(chan []byte, sendBufferSize),
		stop: make(chan struct{}),
	}
	t.link = l
	t.mu.Unlock()

	logger.Info("channel open")
	t.emit(Event{Kind: EventOpen})
	go t.writePump(l)
	go t.readPump(l)
}

// readPump delivers inbound frames until the connection ends.
func (t *Transport) readPump(l *link) {
	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			t.connectionLost(l, err)
			return
		}
		t.emit(Event{Kind: EventMessage, Data: data})
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (t *Transport) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case frame := <-l.send:
			if err := l.write(websocket.TextMessage, frame); err != nil {
				t.emit(Event{Kind: EventError, Err: err})
				// The read side observes the closed socket and reports the loss.
				l.conn.Close()
				return
			}
		case <-ticker.C:
			if err := l.write(websocket.PingMessage, nil); err != nil {
				l.conn.Close()
				return
			}
		}
	}
}

func (t *Transport) connectionLost(l *link, err error) {
	t.mu.Lock()
	if l.gen != t.gen || t.link != l || t.m.state != StateOpen {
		t.mu.Unlock()
		return
	}
	t.lastClose = closeFromError(err)
	effs := t.apply(inputClosed)
	t.link = nil
	t.mu.Unlock()

	if hasEffect(effs, effectCloseConn) {
		t.closeLink(l, false)
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Warn("channel read error", logger.ErrorField(err))
		t.emit(Event{Kind: EventError, Err: err})
	}
	if hasEffect(effs, effectEmitClose) {
		t.emit(t.closeEvent())
	}
}

func (t *Transport) closeLink(l *link, graceful bool) {
	l.halt()
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := l.write(websocket.CloseMessage, msg); err != nil {
			logger.Debug("channel close frame not sent", logger.ErrorField(err))
		}
	}
	l.conn.Close()

	t.mu.Lock()
	if t.link == l {
		t.link = nil
	}
	t.mu.Unlock()
}

func (t *Transport) closeEvent() Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev := t.lastClose
	ev.Kind = EventClose
	return ev
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func closeFromError(err error) Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return Event{Kind: EventClose, Code: ce.Code, Reason: ce.Text, WasClean: ce.Code != websocket.CloseAbnormalClosure}
	}
	return Event{Kind: EventClose, Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}
