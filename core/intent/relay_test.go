package intent

import (
	"context"
	"errors"
	"testing"

	"boardsync/core/dispatch"
	"boardsync/core/store"
	"boardsync/model"
)

type sent struct {
	method  string
	payload any
}

type stubSender struct {
	out []sent
	err error
}

func (s *stubSender) Send(_ context.Context, method string, payload any) error {
	if s.err != nil {
		return s.err
	}
	s.out = append(s.out, sent{method: method, payload: payload})
	return nil
}

func newFixture(policy Policy) (*store.Store, *stubSender, *Relay) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true), Volume: model.Int(60)})
	snd := &stubSender{}
	return s, snd, New(snd, s, policy)
}

func TestRelay_ConfirmedSendsOnly(t *testing.T) {
	s, snd, r := newFixture(PolicyConfirmed)
	ctx := context.Background()

	if err := r.TogglePlay(ctx, "t1"); err != nil {
		t.Fatalf("TogglePlay: %v", err)
	}
	if err := r.SetVolume(ctx, "t1", 140); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := r.ToggleRepeat(ctx, "t1"); err != nil {
		t.Fatalf("ToggleRepeat: %v", err)
	}
	if err := r.Seek(ctx, "t1", -3); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if len(snd.out) != 4 {
		t.Fatalf("sent %d messages, want 4", len(snd.out))
	}
	if snd.out[0].method != model.MethodPause {
		t.Fatalf("toggle on a playing track sent %q, want pause", snd.out[0].method)
	}
	if v := *snd.out[1].payload.(model.IntentPayload).Volume; v != 100 {
		t.Fatalf("volume = %d, want clamped 100", v)
	}
	if !*snd.out[2].payload.(model.IntentPayload).Repeat {
		t.Fatal("repeat toggle should request true")
	}
	if ct := *snd.out[3].payload.(model.IntentPayload).CurrentTime; ct != 0 {
		t.Fatalf("seek = %v, want 0", ct)
	}

	st, _ := s.Get("t1")
	if !st.IsPlaying || st.Volume != 60 || st.IsRepeating {
		t.Fatalf("confirmed policy changed the store: %+v", st)
	}
}

func TestRelay_OptimisticPatchesFirst(t *testing.T) {
	s, snd, r := newFixture(PolicyOptimistic)
	snd.err = dispatch.ErrChannelUnavailable

	err := r.TogglePlay(context.Background(), "t1")
	if !errors.Is(err, dispatch.ErrChannelUnavailable) {
		t.Fatalf("err = %v, want ErrChannelUnavailable", err)
	}
	if st, _ := s.Get("t1"); st.IsPlaying {
		t.Fatal("optimistic patch not applied")
	}
}

func TestRelay_AuthoritativeBroadcastsSyncTrack(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true)})
	snd := &stubSender{}
	r := New(snd, s, PolicyConfirmed, Authoritative())

	if err := r.SetVolume(context.Background(), "t1", 35); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if st, _ := s.Get("t1"); st.Volume != 35 {
		t.Fatalf("store volume = %d, want 35", st.Volume)
	}
	if len(snd.out) != 1 || snd.out[0].method != model.MethodSyncTrack {
		t.Fatalf("sent = %+v, want one syncTrack", snd.out)
	}
	patch := snd.out[0].payload.(model.TrackPatch)
	if patch.ID != "t1" || *patch.Volume != 35 || patch.IsPlaying != nil {
		t.Fatalf("patch = %+v", patch)
	}
}

func TestRelay_UnknownTrack(t *testing.T) {
	_, snd, r := newFixture(PolicyConfirmed)
	if err := r.TogglePlay(context.Background(), "nope"); !errors.Is(err, ErrUnknownTrack) {
		t.Fatalf("err = %v, want ErrUnknownTrack", err)
	}
	if len(snd.out) != 0 {
		t.Fatal("message sent for unknown track")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{
		"optimistic":  PolicyOptimistic,
		" Optimistic": PolicyOptimistic,
		"confirmed":   PolicyConfirmed,
		"":            PolicyConfirmed,
		"whatever":    PolicyConfirmed,
	}
	for in, want := range tests {
		if got := ParsePolicy(in); got != want {
			t.Fatalf("ParsePolicy(%q) = %q, want %q", in, got, want)
		}
	}
}
