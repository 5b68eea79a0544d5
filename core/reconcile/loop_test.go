package reconcile

import (
	"fmt"
	"strings"
	"testing"

	"boardsync/core/store"
	"boardsync/model"
)

// fakeElement records every call into a shared journal.
type fakeElement struct {
	journal *[]string
	paused  bool
	pos     float64
	volume  float64
	loop    bool
	reject  bool
	src     string
	freed   bool
}

func newFakeElement(journal *[]string) *fakeElement {
	return &fakeElement{journal: journal, paused: true}
}

func (e *fakeElement) note(format string, args ...any) {
	*e.journal = append(*e.journal, fmt.Sprintf(format, args...))
}

func (e *fakeElement) Load(src string) error { e.src = src; e.note("load %s", src); return nil }
func (e *fakeElement) Paused() bool          { return e.paused }
func (e *fakeElement) CurrentTime() float64  { return e.pos }
func (e *fakeElement) SetVolume(v float64)   { e.volume = v }
func (e *fakeElement) SetLoop(loop bool)     { e.loop = loop }

func (e *fakeElement) Play() error {
	e.note("play")
	if e.reject {
		return ErrPlaybackRejected
	}
	e.paused = false
	return nil
}

func (e *fakeElement) Pause() {
	e.note("pause")
	e.paused = true
}

func (e *fakeElement) Seek(t float64) {
	e.note("seek %.2f", t)
	e.pos = t
}

func (e *fakeElement) Release() {
	e.note("release")
	e.freed = true
}

type journalListener struct {
	journal *[]string
}

func (j journalListener) TrackChanged(st model.TrackState) {
	*j.journal = append(*j.journal, fmt.Sprintf("store playing=%v time=%.2f", st.IsPlaying, st.CurrentTime))
}
func (j journalListener) TrackRemoved(id string) {}

func newReadyLoop(t *testing.T, s *store.Store, el *fakeElement) *Loop {
	t.Helper()
	l := NewLoop("t1", s, DefaultDriftTolerance)
	if err := l.Bind(el, "src://t1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	l.HandleEvent(ElementEvent{Kind: ElementReady})
	return l
}

func count(journal []string, entry string) int {
	n := 0
	for _, j := range journal {
		if j == entry {
			n++
		}
	}
	return n
}

func TestLoop_VolumeAndLoopSyncedBeforeReady(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true), Volume: model.Int(40), IsRepeating: model.Bool(true)})

	var journal []string
	el := newFakeElement(&journal)
	l := NewLoop("t1", s, DefaultDriftTolerance)
	if err := l.Bind(el, "src://t1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if el.volume != 0.4 || !el.loop {
		t.Fatalf("volume/loop = %v/%v, want 0.4/true", el.volume, el.loop)
	}
	if count(journal, "play") != 0 {
		t.Fatal("play attempted before the element was ready")
	}

	l.HandleEvent(ElementEvent{Kind: ElementReady})
	if el.paused {
		t.Fatal("element not playing after ready")
	}
}

func TestLoop_FadeSkipsVolume(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", Volume: model.Int(80)})
	s.SetFading("t1", true)

	var journal []string
	el := newFakeElement(&journal)
	el.volume = 0.1
	newReadyLoop(t, s, el)

	if el.volume != 0.1 {
		t.Fatalf("volume = %v, fade-owned volume was overwritten", el.volume)
	}
}

func TestLoop_NoReplayWhilePlaying(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true)})

	var journal []string
	el := newFakeElement(&journal)
	l := newReadyLoop(t, s, el)
	l.Reconcile()
	l.Reconcile()

	if n := count(journal, "play"); n != 1 {
		t.Fatalf("play called %d times, want 1", n)
	}
}

func TestLoop_PauseWhenDeclaredPaused(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true)})

	var journal []string
	el := newFakeElement(&journal)
	l := newReadyLoop(t, s, el)

	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(false)})
	l.Reconcile()
	if !el.paused {
		t.Fatal("element still playing after declared pause")
	}
}

func TestLoop_SeekOnlyBeyondTolerance(t *testing.T) {
	tests := []struct {
		name     string
		element  float64
		declared float64
		wantSeek bool
	}{
		{name: "exactly at tolerance", element: 10.0, declared: 10.5, wantSeek: false},
		{name: "within tolerance", element: 10.0, declared: 10.3, wantSeek: false},
		{name: "beyond tolerance", element: 10.0, declared: 10.6, wantSeek: true},
		{name: "behind beyond tolerance", element: 10.0, declared: 9.0, wantSeek: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			var journal []string
			el := newFakeElement(&journal)
			el.pos = tt.element
			s.PatchTrack(model.TrackPatch{ID: "t1", CurrentTime: model.Float64(tt.declared)})

			l := NewLoop("t1", s, 0.5)
			if err := l.Bind(el, "src"); err != nil {
				t.Fatalf("Bind: %v", err)
			}
			l.HandleEvent(ElementEvent{Kind: ElementReady})

			seeked := false
			for _, j := range journal {
				if strings.HasPrefix(j, "seek") {
					seeked = true
				}
			}
			if seeked != tt.wantSeek {
				t.Fatalf("seeked = %v, want %v (journal %v)", seeked, tt.wantSeek, journal)
			}
			if tt.wantSeek && el.pos != tt.declared {
				t.Fatalf("element at %v, want %v", el.pos, tt.declared)
			}
		})
	}
}

func TestLoop_RejectedPlayRevertsIntent(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true)})

	var journal []string
	el := newFakeElement(&journal)
	el.reject = true
	l := newReadyLoop(t, s, el)

	st, _ := s.Get("t1")
	if st.IsPlaying {
		t.Fatal("store still declares playing after rejection")
	}
	l.Reconcile()
	if n := count(journal, "play"); n != 1 {
		t.Fatalf("play attempted %d times, want 1", n)
	}
}

func TestLoop_EndedPatchesStoreBeforeElement(t *testing.T) {
	s := store.New()
	var journal []string
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true), CurrentTime: model.Float64(118)})
	s.Subscribe(journalListener{journal: &journal})

	el := newFakeElement(&journal)
	el.pos = 118
	l := newReadyLoop(t, s, el)
	el.pos = 120
	journal = journal[:0]

	l.HandleEvent(ElementEvent{Kind: ElementEnded})

	storeAt, pauseAt := -1, -1
	for i, j := range journal {
		if j == "store playing=false time=0.00" && storeAt < 0 {
			storeAt = i
		}
		if j == "pause" && pauseAt < 0 {
			pauseAt = i
		}
	}
	if storeAt < 0 || pauseAt < 0 || storeAt > pauseAt {
		t.Fatalf("journal = %v, want store patch before element pause", journal)
	}
	if !el.paused || el.pos != 0 {
		t.Fatalf("element paused=%v pos=%v, want paused at 0", el.paused, el.pos)
	}
	st, _ := s.Get("t1")
	if st.IsPlaying || st.CurrentTime != 0 {
		t.Fatalf("store = %+v", st)
	}
}

func TestLoop_TimeUpdateAndDurationPatchStore(t *testing.T) {
	s := store.New()
	s.InitTrack("t1", "")
	var journal []string
	l := newReadyLoop(t, s, newFakeElement(&journal))

	l.HandleEvent(ElementEvent{Kind: ElementDuration, Value: 184.2})
	l.HandleEvent(ElementEvent{Kind: ElementTimeUpdate, Value: 7.25})

	st, _ := s.Get("t1")
	if st.Duration != 184.2 || st.CurrentTime != 7.25 {
		t.Fatalf("store = %+v", st)
	}
}

func TestLoop_ReleasePausesThenDetaches(t *testing.T) {
	s := store.New()
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true)})
	var journal []string
	el := newFakeElement(&journal)
	l := newReadyLoop(t, s, el)
	journal = journal[:0]

	l.Release()
	if strings.Join(journal, ",") != "pause,release" {
		t.Fatalf("journal = %v, want pause then release", journal)
	}
	l.Reconcile()
	l.HandleEvent(ElementEvent{Kind: ElementTimeUpdate, Value: 3})
	if st, _ := s.Get("t1"); st.CurrentTime != 0 {
		t.Fatal("released loop still patches the store")
	}
}
