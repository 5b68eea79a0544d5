// Package reconcile drives media elements toward the declared playback state
// held in the store.
package reconcile

import (
	"errors"

	"boardsync/model"
)

// ErrPlaybackRejected is returned by Element.Play when the environment refuses
// to start playback.
var ErrPlaybackRejected = errors.New("playback rejected")

// Element is a playable media element bound to one track.
type Element interface {
	Load(src string) error
	Play() error
	Pause()
	Paused() bool
	CurrentTime() float64
	Seek(seconds float64)
	SetVolume(v float64) // 0.0-1.0
	SetLoop(loop bool)
	Release() // detach the source and free resources
}

// ElementEventKind enumerates what an element reports back.
type ElementEventKind int

const (
	ElementReady ElementEventKind = iota
	ElementDuration
	ElementTimeUpdate
	ElementEnded
)

func (k ElementEventKind) String() string {
	switch k {
	case ElementReady:
		return "ready"
	case ElementDuration:
		return "duration"
	case ElementTimeUpdate:
		return "timeupdate"
	case ElementEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ElementEvent is emitted by an element. Value is seconds for Duration and
// TimeUpdate.
type ElementEvent struct {
	Kind  ElementEventKind
	Value float64
}

// ElementFactory creates the element for track id. Elements report their
// events through emit, from any goroutine.
type ElementFactory func(id string, emit func(ElementEvent)) (Element, error)

// Store is the part of the track store a loop reads and patches.
type Store interface {
	Get(id string) (model.TrackState, bool)
	PatchTrack(p model.TrackPatch)
	IsFading(id string) bool
}
