package reconcile

import (
	"errors"
	"testing"

	"boardsync/core/store"
	"boardsync/model"
)

type factoryRecorder struct {
	journal  []string
	elements map[string]*fakeElement
	emits    map[string]func(ElementEvent)
	fail     bool
}

func (f *factoryRecorder) create(id string, emit func(ElementEvent)) (Element, error) {
	if f.fail {
		return nil, errors.New("no audio device")
	}
	el := newFakeElement(&f.journal)
	f.elements[id] = el
	f.emits[id] = emit
	return el, nil
}

func newManagerFixture(t *testing.T) (*store.Store, *Manager, *factoryRecorder) {
	t.Helper()
	s := store.New()
	f := &factoryRecorder{elements: map[string]*fakeElement{}, emits: map[string]func(ElementEvent){}}
	m := NewManager(s, f.create, WithSource(func(id string) string { return "https://board/api/v1/stream/" + id }))
	s.Subscribe(m)
	return s, m, f
}

func TestManager_BindsReconcilesAndReleases(t *testing.T) {
	s, m, f := newManagerFixture(t)

	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true), Volume: model.Int(25)})
	el := f.elements["t1"]
	if el == nil {
		t.Fatal("no element created for new track")
	}
	if el.src != "https://board/api/v1/stream/t1" {
		t.Fatalf("src = %q", el.src)
	}
	if el.volume != 0.25 {
		t.Fatalf("volume = %v, want 0.25", el.volume)
	}
	if m.Ready("t1") {
		t.Fatal("loop ready before element reported ready")
	}

	f.emits["t1"](ElementEvent{Kind: ElementReady})
	if !m.Ready("t1") || el.paused {
		t.Fatal("element not playing after ready")
	}

	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(false)})
	if !el.paused {
		t.Fatal("store pause not reconciled")
	}

	s.RemoveTrack("t1")
	if !el.freed || m.Len() != 0 {
		t.Fatalf("freed=%v len=%d after removal", el.freed, m.Len())
	}

	// Late events from the released element are ignored.
	f.emits["t1"](ElementEvent{Kind: ElementTimeUpdate, Value: 50})
	if _, ok := s.Get("t1"); ok {
		t.Fatal("late event recreated the removed track")
	}
}

func TestManager_EndedStopsTrack(t *testing.T) {
	s, _, f := newManagerFixture(t)
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true)})
	f.emits["t1"](ElementEvent{Kind: ElementReady})
	el := f.elements["t1"]
	el.pos = 95

	f.emits["t1"](ElementEvent{Kind: ElementEnded})

	st, _ := s.Get("t1")
	if st.IsPlaying || st.CurrentTime != 0 {
		t.Fatalf("store = %+v", st)
	}
	if !el.paused || el.pos != 0 {
		t.Fatalf("element paused=%v pos=%v", el.paused, el.pos)
	}
}

func TestManager_FactoryFailureLeavesTrackUnbound(t *testing.T) {
	s, m, f := newManagerFixture(t)
	f.fail = true
	s.InitTrack("t1", "")
	if m.Len() != 0 {
		t.Fatalf("len = %d, want 0", m.Len())
	}

	f.fail = false
	s.PatchTrack(model.TrackPatch{ID: "t1", Volume: model.Int(10)})
	if m.Len() != 1 {
		t.Fatal("element not created on the next change")
	}
}

func TestManager_SetFadeVolumeAndTolerance(t *testing.T) {
	s, m, f := newManagerFixture(t)
	s.PatchTrack(model.TrackPatch{ID: "t1", IsPlaying: model.Bool(true), CurrentTime: model.Float64(10)})
	f.emits["t1"](ElementEvent{Kind: ElementReady})
	el := f.elements["t1"]

	m.SetFadeVolume("t1", 0.3)
	if el.volume != 0.3 {
		t.Fatalf("volume = %v, want 0.3", el.volume)
	}

	m.SetDriftTolerance(5)
	el.pos = 12
	s.PatchTrack(model.TrackPatch{ID: "t1", Volume: model.Int(90)})
	if el.pos != 12 {
		t.Fatalf("seeked within the raised tolerance, pos = %v", el.pos)
	}

	m.ReleaseAll()
	if !el.freed || m.Len() != 0 {
		t.Fatal("ReleaseAll left elements bound")
	}
}
