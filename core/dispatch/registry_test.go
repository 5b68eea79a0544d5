package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"boardsync/core/channel"
	"boardsync/model"
)

type stubSender struct {
	frames [][]byte
	err    error
}

func (s *stubSender) Send(frame []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

type memorySink struct {
	mu      sync.Mutex
	entries []model.StoredMessage
	err     error
}

func (m *memorySink) Append(_ context.Context, msg model.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, msg)
	return m.err
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// blockingSink holds every Append until release is closed or ctx ends.
type blockingSink struct {
	release chan struct{}
	calls   chan struct{}
}

func (b *blockingSink) Append(ctx context.Context, _ model.StoredMessage) error {
	b.calls <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitForCount(t *testing.T, sink *memorySink, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("sink entries = %d, want %d", sink.count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleFrame_FanOutInOrder(t *testing.T) {
	r := NewRegistry(&stubSender{})
	var calls []string
	r.AddHandler(HandlerFunc(func(_ context.Context, msg *model.WireMessage) error {
		calls = append(calls, "a:"+msg.Method)
		return nil
	}))
	r.AddHandler(HandlerFunc(func(_ context.Context, msg *model.WireMessage) error {
		calls = append(calls, "b:"+msg.Method)
		return nil
	}))

	r.HandleFrame(context.Background(), []byte(`{"method":"syncTrack","payload":{"id":"t1"}}`))

	if want := []string{"a:syncTrack", "b:syncTrack"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	log := r.Messages()
	if len(log) != 1 || log[0].Direction != model.DirectionReceived || log[0].Method != "syncTrack" {
		t.Fatalf("log = %+v", log)
	}
	if log[0].Timestamp == 0 {
		t.Fatal("log entry has no timestamp")
	}
}

func TestHandleFrame_MalformedDropped(t *testing.T) {
	r := NewRegistry(&stubSender{})
	called := false
	r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		called = true
		return nil
	}))

	for _, raw := range []string{`not json`, `{"payload":{}}`, ``} {
		r.HandleFrame(context.Background(), []byte(raw))
	}

	if called {
		t.Fatal("handler invoked for malformed frame")
	}
	if n := len(r.Messages()); n != 0 {
		t.Fatalf("log has %d entries, want 0", n)
	}
	if r.MalformedCount() != 3 {
		t.Fatalf("MalformedCount = %d, want 3", r.MalformedCount())
	}
}

func TestHandleFrame_HandlerFailureIsolated(t *testing.T) {
	r := NewRegistry(&stubSender{})
	reached := false
	r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		panic("boom")
	}))
	r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		return errors.New("bad payload")
	}))
	r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		reached = true
		return nil
	}))

	r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))
	if !reached {
		t.Fatal("later handler not invoked after earlier failures")
	}
}

func TestRemoveHandler(t *testing.T) {
	r := NewRegistry(&stubSender{})
	count := 0
	id := r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		count++
		return nil
	}))
	r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))
	r.RemoveHandler(id)
	r.RemoveHandler(id)
	r.RemoveHandler(HandlerID(999))
	r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))

	if count != 1 {
		t.Fatalf("handler called %d times, want 1", count)
	}
}

func TestHandleFrame_RegistrationDuringDispatchUsesSnapshot(t *testing.T) {
	r := NewRegistry(&stubSender{})
	late := 0
	r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
			late++
			return nil
		}))
		return nil
	}))

	r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))
	if late != 0 {
		t.Fatalf("handler added during dispatch ran %d times, want 0", late)
	}
}

func TestSend(t *testing.T) {
	sender := &stubSender{}
	sink := &memorySink{err: errors.New("redis down")}
	r := NewRegistry(sender, WithLogSink(sink))
	defer r.Close()

	err := r.Send(context.Background(), model.MethodVolume, model.IntentPayload{TrackID: "t1", Volume: model.Int(40)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.frames) != 1 {
		t.Fatalf("frames sent = %d, want 1", len(sender.frames))
	}

	var got model.WireMessage
	if err := json.Unmarshal(sender.frames[0], &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.Method != model.MethodVolume || string(got.Payload) != `{"trackId":"t1","volume":40}` {
		t.Fatalf("frame = %s", sender.frames[0])
	}

	log := r.Messages()
	if len(log) != 1 || log[0].Direction != model.DirectionSent {
		t.Fatalf("log = %+v", log)
	}
	waitForCount(t, sink, 1)
}

func TestHandleFrame_SlowSinkDoesNotBlock(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), calls: make(chan struct{}, 16)}
	r := NewRegistry(&stubSender{}, WithLogSink(sink))
	defer r.Close()

	var handled int
	r.AddHandler(HandlerFunc(func(context.Context, *model.WireMessage) error {
		handled++
		return nil
	}))

	start := time.Now()
	for i := 0; i < 3; i++ {
		r.HandleFrame(context.Background(), []byte(`{"method":"syncTrack","payload":{"id":"t1"}}`))
		if err := r.Send(context.Background(), model.MethodPong, nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("dispatch took %v with a stalled sink", elapsed)
	}
	if handled != 3 {
		t.Fatalf("handled = %d, want 3", handled)
	}
	if n := len(r.Messages()); n != 6 {
		t.Fatalf("log entries = %d, want 6", n)
	}

	select {
	case <-sink.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never called")
	}
	close(sink.release)
}

func TestRecord_DropsWhenMirrorFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), calls: make(chan struct{}, 1)}
	r := NewRegistry(&stubSender{}, WithLogSink(sink))
	defer r.Close()

	// The first entry is taken by the worker, which then stalls.
	r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))
	select {
	case <-sink.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never called")
	}

	for i := 0; i < mirrorBuffer+5; i++ {
		r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))
	}
	if got := r.MirrorDropped(); got != 5 {
		t.Fatalf("MirrorDropped = %d, want 5", got)
	}
}

func TestClose_StopsStalledMirror(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), calls: make(chan struct{}, 1)}
	r := NewRegistry(&stubSender{}, WithLogSink(sink))
	r.HandleFrame(context.Background(), []byte(`{"method":"ping"}`))
	<-sink.calls

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while the sink was stalled")
	}
	r.Close()
}

func TestSend_ChannelUnavailable(t *testing.T) {
	r := NewRegistry(&stubSender{err: channel.ErrNotConnected})

	err := r.Send(context.Background(), model.MethodPlay, model.IntentPayload{TrackID: "t1"})
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("err = %v, want ErrChannelUnavailable", err)
	}
	if !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("err = %v does not wrap channel.ErrNotConnected", err)
	}
	if n := len(r.Messages()); n != 0 {
		t.Fatalf("failed send logged %d entries", n)
	}
}

func TestHistoryLimitAndClear(t *testing.T) {
	r := NewRegistry(&stubSender{}, WithHistoryLimit(2))
	for _, m := range []string{"ping", "pong", "syncRequest"} {
		r.HandleFrame(context.Background(), []byte(`{"method":"`+m+`"}`))
	}

	log := r.Messages()
	if len(log) != 2 || log[0].Method != "pong" || log[1].Method != "syncRequest" {
		t.Fatalf("log = %+v, want the two newest", log)
	}

	log[0].Method = "mutated"
	if r.Messages()[0].Method != "pong" {
		t.Fatal("Messages returned a reference into the log")
	}

	r.ClearLog()
	if n := len(r.Messages()); n != 0 {
		t.Fatalf("log has %d entries after ClearLog", n)
	}
}
