// Package fade ramps a track's element volume over time while marking the
// track as fading so reconciliation leaves the volume alone.
package fade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"boardsync/logger"
	"boardsync/model"

	"go.uber.org/zap"
)

const DefaultStep = 50 * time.Millisecond

// ErrSuperseded is returned when a newer fade on the same track replaced this one.
var ErrSuperseded = errors.New("fade superseded")

var ErrUnknownTrack = errors.New("unknown track")

// VolumeSetter sets an element volume (0.0-1.0) without touching the store.
type VolumeSetter interface {
	SetFadeVolume(id string, v float64)
}

// Store is the part of the track store the controller needs.
type Store interface {
	Get(id string) (model.TrackState, bool)
	PatchTrack(p model.TrackPatch)
	SetFading(id string, inProgress bool)
}

type fadeRun struct {
	gen    uint64
	cancel context.CancelFunc
}

// Controller runs at most one fade per track.
type Controller struct {
	store  Store
	setter VolumeSetter
	post   func(func())
	step   time.Duration
	log    *zap.Logger

	mu     sync.Mutex
	gen    uint64
	active map[string]fadeRun
}

// Option configures a Controller.
type Option func(*Controller)

// WithStep sets the interval between volume steps.
func WithStep(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.step = d
		}
	}
}

// WithPoster runs element and store updates through post.
func WithPoster(post func(func())) Option {
	return func(c *Controller) { c.post = post }
}

// New creates a fade controller.
func New(store Store, setter VolumeSetter, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		setter: setter,
		post:   func(fn func()) { fn() },
		step:   DefaultStep,
		log:    logger.Named("fade"),
		active: make(map[string]fadeRun),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fade moves track id from its current volume to target over d and then
// commits target to the store. It blocks until the fade completes, ctx is
// cancelled or a newer fade on the same track supersedes it.
func (c *Controller) Fade(ctx context.Context, id string, target int, d time.Duration) error {
	st, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("fade %s: %w", id, ErrUnknownTrack)
	}
	target = model.ClampVolume(target)
	from := st.Volume

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen := c.begin(id, cancel)
	c.store.SetFading(id, true)
	c.log.Debug("fade started", zap.String("track", id), zap.Int("from", from), zap.Int("to", target), zap.Duration("duration", d))

	steps := int(d / c.step)
	if steps < 1 {
		steps = 1
	}
	ticker := time.NewTicker(c.step)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return c.abort(id, gen, ctx.Err())
		case <-ticker.C:
		}
		frac := float64(i) / float64(steps)
		v := (float64(from) + float64(target-from)*frac) / 100
		c.post(func() { c.setter.SetFadeVolume(id, v) })
	}

	if !c.finish(id, gen) {
		return ErrSuperseded
	}
	c.post(func() {
		c.store.SetFading(id, false)
		c.store.PatchTrack(model.TrackPatch{ID: id, Volume: model.Int(target)})
	})
	return nil
}

func (c *Controller) begin(id string, cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.active[id]; ok {
		prev.cancel()
	}
	c.gen++
	c.active[id] = fadeRun{gen: c.gen, cancel: cancel}
	return c.gen
}

// finish clears the active entry if gen still owns it.
func (c *Controller) finish(id string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.active[id]
	if !ok || run.gen != gen {
		return false
	}
	delete(c.active, id)
	return true
}

func (c *Controller) abort(id string, gen uint64, err error) error {
	if !c.finish(id, gen) {
		return ErrSuperseded
	}
	c.post(func() { c.store.SetFading(id, false) })
	return err
}

// Active reports whether a fade is running on track id.
func (c *Controller) Active(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}
