package reconcile

import (
	"math"

	"boardsync/logger"
	"boardsync/model"

	"go.uber.org/zap"
)

// DefaultDriftTolerance is how far, in seconds, the element may drift from the
// declared position before it is re-seeked.
const DefaultDriftTolerance = 0.5

type loopState int

const (
	stateUnbound loopState = iota
	stateLoading
	stateReady
)

func (s loopState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateLoading:
		return "loading"
	case stateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Loop reconciles one track's element with the store.
type Loop struct {
	id        string
	store     Store
	el        Element
	state     loopState
	tolerance float64
	log       *zap.Logger
}

// NewLoop creates an unbound loop for track id.
func NewLoop(id string, store Store, tolerance float64) *Loop {
	return &Loop{
		id:        id,
		store:     store,
		tolerance: tolerance,
		log:       logger.Named("reconcile").With(zap.String("track", id)),
	}
}

// Bind attaches el and starts loading src.
func (l *Loop) Bind(el Element, src string) error {
	l.el = el
	l.state = stateLoading
	if err := el.Load(src); err != nil {
		l.el = nil
		l.state = stateUnbound
		return err
	}
	l.Reconcile()
	return nil
}

// SetTolerance changes the drift tolerance.
func (l *Loop) SetTolerance(tolerance float64) {
	l.tolerance = tolerance
}

// Ready reports whether the element can accept play, pause and seek.
func (l *Loop) Ready() bool {
	return l.state == stateReady
}

// Reconcile applies the declared state to the element. Volume and loop are
// always synced; transport controls wait for the element to be ready.
func (l *Loop) Reconcile() {
	if l.el == nil {
		return
	}
	st, ok := l.store.Get(l.id)
	if !ok {
		return
	}

	if !l.store.IsFading(l.id) {
		l.el.SetVolume(st.ElementVolume())
	}
	l.el.SetLoop(st.IsRepeating)

	if l.state != stateReady {
		return
	}

	if st.IsPlaying {
		if l.el.Paused() {
			if err := l.el.Play(); err != nil {
				l.log.Warn("playback rejected", zap.Error(err))
				l.store.PatchTrack(model.TrackPatch{ID: l.id, IsPlaying: model.Bool(false)})
				return
			}
		}
	} else if !l.el.Paused() {
		l.el.Pause()
	}

	if math.Abs(l.el.CurrentTime()-st.CurrentTime) > l.tolerance {
		l.el.Seek(st.CurrentTime)
	}
}

// HandleEvent folds an element event into the store.
func (l *Loop) HandleEvent(ev ElementEvent) {
	if l.el == nil {
		return
	}
	switch ev.Kind {
	case ElementReady:
		if l.state == stateLoading {
			l.state = stateReady
			l.log.Debug("element ready")
		}
		l.Reconcile()
	case ElementDuration:
		l.store.PatchTrack(model.TrackPatch{ID: l.id, Duration: model.Float64(ev.Value)})
	case ElementTimeUpdate:
		l.store.PatchTrack(model.TrackPatch{ID: l.id, CurrentTime: model.Float64(ev.Value)})
	case ElementEnded:
		// Store first so the echo of this patch sees a stopped track.
		l.store.PatchTrack(model.TrackPatch{
			ID:          l.id,
			IsPlaying:   model.Bool(false),
			CurrentTime: model.Float64(0),
		})
		if l.el != nil {
			l.el.Pause()
			l.el.Seek(0)
		}
	}
}

// SetVolume sets the element volume directly, bypassing the store.
func (l *Loop) SetVolume(v float64) {
	if l.el != nil {
		l.el.SetVolume(v)
	}
}

// Release pauses and detaches the element.
func (l *Loop) Release() {
	if l.el == nil {
		return
	}
	l.el.Pause()
	l.el.Release()
	l.el = nil
	l.state = stateUnbound
}
