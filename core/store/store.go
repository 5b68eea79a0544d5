// Package store holds the shared per-track playback state.
package store

import (
	"sort"
	"sync"

	"boardsync/model"
)

// Listener is notified after a mutation has been committed.
type Listener interface {
	TrackChanged(state model.TrackState)
	TrackRemoved(id string)
}

// NameResolver supplies a display name for a track id, "" if unknown.
type NameResolver func(id string) string

// Store is the single source of declared playback intent. All mutation goes
// through its methods; reads return copies.
type Store struct {
	mu        sync.RWMutex
	tracks    map[string]model.TrackState
	fading    map[string]model.FadeStatus
	enabled   bool
	resolve   NameResolver
	listeners []Listener
}

// New creates an empty store with sync disabled.
func New() *Store {
	return &Store{
		tracks: make(map[string]model.TrackState),
		fading: make(map[string]model.FadeStatus),
	}
}

// WithNameResolver sets the lookup used when a track is created without a name.
func (s *Store) WithNameResolver(r NameResolver) *Store {
	s.mu.Lock()
	s.resolve = r
	s.mu.Unlock()
	return s
}

// Subscribe registers l for change notifications.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

type change struct {
	state   model.TrackState
	removed string
}

func (s *Store) notify(changes []change) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, c := range changes {
		for _, l := range listeners {
			if c.removed != "" {
				l.TrackRemoved(c.removed)
			} else {
				l.TrackChanged(c.state)
			}
		}
	}
}

// initLocked creates id with defaults if absent. Caller holds s.mu.
func (s *Store) initLocked(id, name string) (model.TrackState, bool) {
	if st, ok := s.tracks[id]; ok {
		return st, false
	}
	if name == "" && s.resolve != nil {
		name = s.resolve(id)
	}
	st := model.NewTrackState(id, name)
	s.tracks[id] = st
	return st, true
}

// patchLocked applies p, initializing the track first if needed.
// Caller holds s.mu.
func (s *Store) patchLocked(p model.TrackPatch) (model.TrackState, bool) {
	before, created := s.initLocked(p.ID, "")
	after := before.Apply(p)
	s.tracks[p.ID] = after
	return after, created || after != before
}

// InitTrack creates a track with default values. Existing tracks are untouched.
func (s *Store) InitTrack(id, name string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	st, created := s.initLocked(id, name)
	s.mu.Unlock()

	if created {
		s.notify([]change{{state: st}})
	}
}

// PatchTrack merges the set fields of p into the track, creating it first if
// it does not exist.
func (s *Store) PatchTrack(p model.TrackPatch) {
	if p.ID == "" {
		return
	}
	s.mu.Lock()
	st, changed := s.patchLocked(p)
	s.mu.Unlock()

	if changed {
		s.notify([]change{{state: st}})
	}
}

// RemoveTrack deletes a track and its fade status.
func (s *Store) RemoveTrack(id string) {
	s.mu.Lock()
	_, ok := s.tracks[id]
	delete(s.tracks, id)
	delete(s.fading, id)
	s.mu.Unlock()

	if ok {
		s.notify([]change{{removed: id}})
	}
}

// ReplaceAll makes the store mirror tracks: ids absent from tracks are
// removed, every listed track is initialized and patched. It does nothing
// while sync is disabled and reports whether it applied.
func (s *Store) ReplaceAll(tracks []model.TrackPatch) bool {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return false
	}

	incoming := make(map[string]struct{}, len(tracks))
	for _, p := range tracks {
		if p.ID != "" {
			incoming[p.ID] = struct{}{}
		}
	}

	var changes []change
	for _, id := range s.sortedIDsLocked() {
		if _, keep := incoming[id]; !keep {
			delete(s.tracks, id)
			delete(s.fading, id)
			changes = append(changes, change{removed: id})
		}
	}
	for _, p := range tracks {
		if p.ID == "" {
			continue
		}
		if st, changed := s.patchLocked(p); changed {
			changes = append(changes, change{state: st})
		}
	}
	s.mu.Unlock()

	s.notify(changes)
	return true
}

// ListPlaying returns the summaries of every playing track, ordered by id.
func (s *Store) ListPlaying() []model.TrackSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TrackSummary, 0, len(s.tracks))
	for _, id := range s.sortedIDsLocked() {
		if st := s.tracks[id]; st.IsPlaying {
			out = append(out, st.Summary())
		}
	}
	return out
}

// Get returns a copy of the track state.
func (s *Store) Get(id string) (model.TrackState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tracks[id]
	return st, ok
}

// Tracks returns copies of every track, ordered by id.
func (s *Store) Tracks() []model.TrackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TrackState, 0, len(s.tracks))
	for _, id := range s.sortedIDsLocked() {
		out = append(out, s.tracks[id])
	}
	return out
}

// SetEnabled toggles whether full-syncs are honored.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Enabled reports the enable-gate.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetFading marks whether a fade owns the track's volume.
func (s *Store) SetFading(id string, inProgress bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inProgress {
		s.fading[id] = model.FadeStatus{InProgress: true}
		return
	}
	delete(s.fading, id)
}

// IsFading reports whether a fade owns the track's volume.
func (s *Store) IsFading(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fading[id].InProgress
}

func (s *Store) sortedIDsLocked() []string {
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
