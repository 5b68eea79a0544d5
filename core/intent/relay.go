// Package intent turns local user actions into outbound sync messages.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"boardsync/model"
)

// Policy decides whether a local intent touches the store before the server
// echoes it back.
type Policy string

const (
	// PolicyConfirmed only sends; the store changes when the echo arrives.
	PolicyConfirmed Policy = "confirmed"
	// PolicyOptimistic patches the store first, then sends.
	PolicyOptimistic Policy = "optimistic"
)

// ParsePolicy maps a config value to a Policy, defaulting to confirmed.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == PolicyOptimistic {
		return PolicyOptimistic
	}
	return PolicyConfirmed
}

var ErrUnknownTrack = errors.New("unknown track")

// Sender transmits a message. *dispatch.Registry satisfies it.
type Sender interface {
	Send(ctx context.Context, method string, payload any) error
}

// Store is the part of the track store the relay reads and patches.
type Store interface {
	Get(id string) (model.TrackState, bool)
	PatchTrack(p model.TrackPatch)
}

// Relay sends play/pause/volume/repeat/seek intents.
type Relay struct {
	sender        Sender
	store         Store
	authoritative bool

	mu     sync.RWMutex
	policy Policy
}

// Option configures a Relay.
type Option func(*Relay)

// Authoritative makes the relay act for the gm: intents are applied to the
// store and broadcast as syncTrack patches, since nobody echoes them back.
func Authoritative() Option {
	return func(r *Relay) { r.authoritative = true }
}

// New creates a relay.
func New(sender Sender, store Store, policy Policy, opts ...Option) *Relay {
	r := &Relay{sender: sender, store: store, policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPolicy switches the policy for subsequent intents.
func (r *Relay) SetPolicy(p Policy) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
}

// Policy returns the active policy.
func (r *Relay) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// TogglePlay asks to pause a playing track or play a paused one.
func (r *Relay) TogglePlay(ctx context.Context, id string) error {
	st, ok := r.store.Get(id)
	if !ok {
		return fmt.Errorf("toggle play %s: %w", id, ErrUnknownTrack)
	}
	method := model.MethodPlay
	if st.IsPlaying {
		method = model.MethodPause
	}
	return r.relay(ctx, method, model.IntentPayload{TrackID: id})
}

// SetVolume asks to change a track's volume (0-100).
func (r *Relay) SetVolume(ctx context.Context, id string, volume int) error {
	if _, ok := r.store.Get(id); !ok {
		return fmt.Errorf("set volume %s: %w", id, ErrUnknownTrack)
	}
	return r.relay(ctx, model.MethodVolume, model.IntentPayload{
		TrackID: id,
		Volume:  model.Int(model.ClampVolume(volume)),
	})
}

// ToggleRepeat asks to flip a track's loop flag.
func (r *Relay) ToggleRepeat(ctx context.Context, id string) error {
	st, ok := r.store.Get(id)
	if !ok {
		return fmt.Errorf("toggle repeat %s: %w", id, ErrUnknownTrack)
	}
	return r.relay(ctx, model.MethodRepeat, model.IntentPayload{
		TrackID: id,
		Repeat:  model.Bool(!st.IsRepeating),
	})
}

// Seek asks to move a track's position to seconds.
func (r *Relay) Seek(ctx context.Context, id string, seconds float64) error {
	if _, ok := r.store.Get(id); !ok {
		return fmt.Errorf("seek %s: %w", id, ErrUnknownTrack)
	}
	if seconds < 0 {
		seconds = 0
	}
	return r.relay(ctx, model.MethodSeek, model.IntentPayload{
		TrackID:     id,
		CurrentTime: model.Float64(seconds),
	})
}

func (r *Relay) relay(ctx context.Context, method string, payload model.IntentPayload) error {
	if r.authoritative {
		patch, _ := payload.Patch(method)
		r.store.PatchTrack(patch)
		if err := r.sender.Send(ctx, model.MethodSyncTrack, patch); err != nil {
			return fmt.Errorf("broadcast %s for %s: %w", method, payload.TrackID, err)
		}
		return nil
	}
	if r.Policy() == PolicyOptimistic {
		if patch, ok := payload.Patch(method); ok {
			r.store.PatchTrack(patch)
		}
	}
	if err := r.sender.Send(ctx, method, payload); err != nil {
		return fmt.Errorf("relay %s for %s: %w", method, payload.TrackID, err)
	}
	return nil
}
