package reconcile

import (
	"sync"

	"boardsync/logger"
	"boardsync/model"

	"go.uber.org/zap"
)

// Manager owns one Loop per track and keeps the set in step with the store.
// It is a store listener; its methods are meant to run on the session loop.
type Manager struct {
	store   Store
	factory ElementFactory
	source  func(id string) string
	post    func(func())
	log     *zap.Logger

	mu        sync.Mutex
	loops     map[string]*Loop
	tolerance float64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSource maps a track id to the media source handed to Element.Load.
func WithSource(fn func(id string) string) ManagerOption {
	return func(m *Manager) { m.source = fn }
}

// WithPoster routes element events through post, typically Session.Post, so
// they are handled on the session goroutine.
func WithPoster(post func(func())) ManagerOption {
	return func(m *Manager) { m.post = post }
}

// WithDriftTolerance sets the initial drift tolerance.
func WithDriftTolerance(tolerance float64) ManagerOption {
	return func(m *Manager) { m.tolerance = tolerance }
}

// NewManager creates a manager building elements with factory.
func NewManager(store Store, factory ElementFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		factory:   factory,
		source:    func(id string) string { return id },
		post:      func(fn func()) { fn() },
		log:       logger.Named("reconcile"),
		loops:     make(map[string]*Loop),
		tolerance: DefaultDriftTolerance,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TrackChanged binds an element the first time a track is seen and
// reconciles it on every change.
func (m *Manager) TrackChanged(st model.TrackState) {
	m.mu.Lock()
	loop, ok := m.loops[st.ID]
	if !ok {
		loop = NewLoop(st.ID, m.store, m.tolerance)
		m.loops[st.ID] = loop
	}
	m.mu.Unlock()

	if ok {
		loop.Reconcile()
		return
	}

	emit := func(ev ElementEvent) {
		m.post(func() { m.dispatch(st.ID, loop, ev) })
	}
	el, err := m.factory(st.ID, emit)
	if err != nil {
		m.log.Error("create element failed", zap.String("track", st.ID), zap.Error(err))
		m.drop(st.ID, loop)
		return
	}
	if err := loop.Bind(el, m.source(st.ID)); err != nil {
		m.log.Error("load element failed", zap.String("track", st.ID), zap.Error(err))
		el.Release()
		m.drop(st.ID, loop)
	}
}

// TrackRemoved releases the track's element.
func (m *Manager) TrackRemoved(id string) {
	m.mu.Lock()
	loop, ok := m.loops[id]
	delete(m.loops, id)
	m.mu.Unlock()

	if ok {
		loop.Release()
	}
}

func (m *Manager) dispatch(id string, loop *Loop, ev ElementEvent) {
	m.mu.Lock()
	current := m.loops[id] == loop
	m.mu.Unlock()
	if !current {
		// Late event from a released element.
		return
	}
	loop.HandleEvent(ev)
}

func (m *Manager) drop(id string, loop *Loop) {
	m.mu.Lock()
	if m.loops[id] == loop {
		delete(m.loops, id)
	}
	m.mu.Unlock()
}

// SetFadeVolume sets an element volume directly while a fade owns it.
func (m *Manager) SetFadeVolume(id string, v float64) {
	m.mu.Lock()
	loop := m.loops[id]
	m.mu.Unlock()
	if loop != nil {
		loop.SetVolume(v)
	}
}

// SetDriftTolerance updates the tolerance of every loop.
func (m *Manager) SetDriftTolerance(tolerance float64) {
	if tolerance < 0 {
		return
	}
	m.mu.Lock()
	m.tolerance = tolerance
	loops := make([]*Loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()

	for _, l := range loops {
		l.SetTolerance(tolerance)
	}
}

// Ready reports whether track id has a ready element.
func (m *Manager) Ready(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	loop, ok := m.loops[id]
	return ok && loop.Ready()
}

// Len returns the number of bound tracks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// ReleaseAll releases every element.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	loops := m.loops
	m.loops = make(map[string]*Loop)
	m.mu.Unlock()

	for _, l := range loops {
		l.Release()
	}
}
