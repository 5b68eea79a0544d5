// Package player provides a headless media element: it keeps a playback
// position against the wall clock, probes duration with ffprobe and reports
// progress the way a browser audio element would.
package player

import (
	"context"
	"math"
	"sync"
	"time"

	"boardsync/core/audio"
	"boardsync/core/reconcile"
	"boardsync/logger"

	"go.uber.org/zap"
)

const (
	DefaultTickInterval = 250 * time.Millisecond
	probeTimeout        = 15 * time.Second
)

// Options configures headless elements.
type Options struct {
	Prober       audio.Prober
	Autoplay     bool          // false rejects Play like a browser without a user gesture
	TickInterval time.Duration // 0 uses the default, negative disables the ticker
	Now          func() time.Time
}

// NewFactory returns an ElementFactory producing headless elements.
func NewFactory(opts Options) reconcile.ElementFactory {
	return func(id string, emit func(reconcile.ElementEvent)) (reconcile.Element, error) {
		return New(id, emit, opts), nil
	}
}

// Element is a clock-driven reconcile.Element.
type Element struct {
	id     string
	emit   func(reconcile.ElementEvent)
	prober audio.Prober
	now    func() time.Time
	tick   time.Duration
	allow  bool
	log    *zap.Logger

	mu       sync.Mutex
	src      string
	duration float64
	base     float64   // position at anchor
	anchor   time.Time // when base was taken
	playing  bool
	loop     bool
	volume   float64
	cancel   context.CancelFunc
}

// New creates an unloaded element for track id.
func New(id string, emit func(reconcile.ElementEvent), opts Options) *Element {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &Element{
		id:     id,
		emit:   emit,
		prober: opts.Prober,
		now:    opts.Now,
		tick:   opts.TickInterval,
		allow:  opts.Autoplay,
		log:    logger.Named("player").With(zap.String("track", id)),
		volume: 1,
	}
}

// Load binds src, probes its duration in the background and then reports
// ready. Loading a new source replaces the previous one.
func (e *Element) Load(src string) error {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.src = src
	e.duration = 0
	e.base = 0
	e.anchor = e.now()
	e.playing = false
	e.cancel = cancel
	e.mu.Unlock()

	go e.load(ctx, src)
	return nil
}

func (e *Element) load(ctx context.Context, src string) {
	var duration float64
	if e.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		d, err := e.prober.Duration(pctx, src)
		cancel()
		if err != nil {
			e.log.Warn("duration probe failed", zap.String("src", src), zap.Error(err))
		} else {
			duration = d
		}
	}
	if ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	e.duration = duration
	e.mu.Unlock()

	if duration > 0 {
		e.emit(reconcile.ElementEvent{Kind: reconcile.ElementDuration, Value: duration})
	}
	e.emit(reconcile.ElementEvent{Kind: reconcile.ElementReady})

	if e.tick > 0 {
		e.run(ctx)
	}
}

func (e *Element) run(ctx context.Context) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick advances the element and emits time updates or the ended event.
func (e *Element) Tick() {
	e.mu.Lock()
	if !e.playing || e.src == "" {
		e.mu.Unlock()
		return
	}
	pos := e.positionLocked()
	var ev reconcile.ElementEvent
	switch {
	case e.duration > 0 && pos >= e.duration && e.loop:
		pos = math.Mod(pos, e.duration)
		e.base, e.anchor = pos, e.now()
		ev = reconcile.ElementEvent{Kind: reconcile.ElementTimeUpdate, Value: pos}
	case e.duration > 0 && pos >= e.duration:
		e.base, e.anchor = e.duration, e.now()
		e.playing = false
		ev = reconcile.ElementEvent{Kind: reconcile.ElementEnded}
	default:
		ev = reconcile.ElementEvent{Kind: reconcile.ElementTimeUpdate, Value: pos}
	}
	e.mu.Unlock()

	e.emit(ev)
}

func (e *Element) positionLocked() float64 {
	if !e.playing {
		return e.base
	}
	return e.base + e.now().Sub(e.anchor).Seconds()
}

func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.allow {
		return reconcile.ErrPlaybackRejected
	}
	if e.src == "" {
		return reconcile.ErrPlaybackRejected
	}
	if !e.playing {
		e.anchor = e.now()
		e.playing = true
	}
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.base = e.positionLocked()
		e.playing = false
	}
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *Element) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if e.duration > 0 && seconds > e.duration {
		seconds = e.duration
	}
	e.base, e.anchor = seconds, e.now()
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = math.Max(0, math.Min(1, v))
	e.mu.Unlock()
}

// Volume returns the element volume.
func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Element) SetLoop(loop bool) {
	e.mu.Lock()
	e.loop = loop
	e.mu.Unlock()
}

// Release stops the ticker and detaches the source.
func (e *Element) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.base = e.positionLocked()
	e.playing = false
	e.src = ""
}
