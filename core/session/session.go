// Package session wires the transport, dispatch registry, store and
// reconciliation into one client session driven by a single goroutine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"boardsync/config"
	"boardsync/core/catalog"
	"boardsync/core/channel"
	"boardsync/core/dispatch"
	"boardsync/core/fade"
	"boardsync/core/intent"
	"boardsync/core/reconcile"
	"boardsync/core/store"
	"boardsync/logger"
	"boardsync/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const taskBufferSize = 256

var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	ID       string // defaults to a random uuid
	Config   *config.Config
	Elements reconcile.ElementFactory
	Source   func(id string) string // media source per track
	Sink     dispatch.LogSink       // optional message log mirror
	Dial     channel.DialFunc       // optional, for tests
	Seed     *catalog.Seed          // optional catalog names and defaults
	// SeedTracks creates every catalog track up front instead of only
	// resolving names for tracks that arrive over the channel.
	SeedTracks bool
}

// Status is a point-in-time summary for diagnostics.
type Status struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	State            string `json:"state"`
	ReconnectPending bool   `json:"reconnectPending"`
	Enabled          bool   `json:"enabled"`
	Tracks           int    `json:"tracks"`
	Bound            int    `json:"bound"`
	Messages         int    `json:"messages"`
	Malformed        uint64 `json:"malformed"`
	MirrorDropped    uint64 `json:"mirrorDropped"`
	Policy           string `json:"policy"`
}

// Session is one connected client.
type Session struct {
	id                string
	role              string
	token             string
	broadcastInterval time.Duration

	transport *channel.Transport
	registry  *dispatch.Registry
	store     *store.Store
	manager   *reconcile.Manager
	relay     *intent.Relay
	fader     *fade.Controller

	seed       *catalog.Seed
	seedTracks bool

	tasks chan func()
	done  chan struct{}
	log   *zap.Logger
}

// New builds a session from cfg. It does not connect until Run.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Elements == nil {
		return nil, fmt.Errorf("session: element factory is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	s := &Session{
		id:                id,
		role:              cfg.Role,
		token:             cfg.Token,
		broadcastInterval: cfg.BroadcastInterval,
		seed:              opts.Seed,
		seedTracks:        opts.SeedTracks,
		tasks:             make(chan func(), taskBufferSize),
		done:              make(chan struct{}),
		log:               logger.Named("session").With(zap.String("session", id), zap.String("role", cfg.Role)),
	}

	s.transport = channel.NewTransport(channel.Options{
		BaseURL:        cfg.APIBaseURL,
		Path:           cfg.SyncPath,
		ReconnectDelay: cfg.ReconnectDelay,
		Dial:           opts.Dial,
	})

	regOpts := []dispatch.Option{dispatch.WithHistoryLimit(cfg.HistoryLimit)}
	if opts.Sink != nil {
		regOpts = append(regOpts, dispatch.WithLogSink(opts.Sink))
	}
	s.registry = dispatch.NewRegistry(s.transport, regOpts...)

	s.store = store.New()
	if opts.Seed != nil {
		s.store.WithNameResolver(opts.Seed.Name)
	}
	s.store.SetEnabled(cfg.SyncEnabled)

	mgrOpts := []reconcile.ManagerOption{
		reconcile.WithPoster(s.Post),
		reconcile.WithDriftTolerance(cfg.DriftTolerance),
	}
	if opts.Source != nil {
		mgrOpts = append(mgrOpts, reconcile.WithSource(opts.Source))
	}
	s.manager = reconcile.NewManager(s.store, opts.Elements, mgrOpts...)
	s.store.Subscribe(s.manager)

	var relayOpts []intent.Option
	if s.role == config.RoleGM {
		relayOpts = append(relayOpts, intent.Authoritative())
	}
	s.relay = intent.New(s.registry, s.store, intent.ParsePolicy(cfg.IntentPolicy), relayOpts...)
	s.fader = fade.New(s.store, s.manager, fade.WithPoster(s.Post))

	s.registerHandlers()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Run connects and processes events until ctx is cancelled. On return the
// channel is closed and every element released.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.transport.Shutdown()
		s.manager.ReleaseAll()
		s.registry.Close()
		close(s.done)
		s.log.Info("session stopped")
	}()

	if s.seed != nil && s.seedTracks {
		s.applySeed()
	}

	s.log.Info("session starting")
	go func() {
		if err := s.transport.Connect(ctx, s.token); err != nil {
			s.log.Warn("initial connect failed", zap.Error(err))
		}
	}()

	var tick <-chan time.Time
	if s.role == config.RoleGM && s.broadcastInterval > 0 {
		ticker := time.NewTicker(s.broadcastInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			s.handleEvent(ctx, ev)
		case fn := <-s.tasks:
			fn()
		case <-tick:
			if s.transport.State() == channel.StateOpen {
				s.broadcastSnapshot(ctx, "")
			}
		}
	}
}

func (s *Session) applySeed() {
	for id, name := range s.seed.Names {
		s.store.InitTrack(id, name)
		if s.seed.Repeating[id] {
			s.store.PatchTrack(model.TrackPatch{ID: id, IsRepeating: model.Bool(true)})
		}
	}
	s.log.Info("catalog seeded", zap.Int("tracks", len(s.seed.Names)))
}

func (s *Session) handleEvent(ctx context.Context, ev channel.Event) {
	switch ev.Kind {
	case channel.EventOpen:
		s.log.Info("sync channel open")
		if s.role == config.RolePlayer && s.store.Enabled() {
			s.requestSync(ctx)
		}
	case channel.EventMessage:
		s.registry.HandleFrame(ctx, ev.Data)
	case channel.EventClose:
		s.log.Info("sync channel closed",
			zap.Int("code", ev.Code),
			zap.String("reason", ev.Reason),
			zap.Bool("clean", ev.WasClean))
	case channel.EventError:
		s.log.Warn("sync channel error", zap.Error(ev.Err))
	}
}

func (s *Session) requestSync(ctx context.Context) {
	if err := s.registry.Send(ctx, model.MethodSyncRequest, struct{}{}); err != nil {
		s.log.Warn("sync request failed", zap.Error(err))
	}
}

func (s *Session) broadcastSnapshot(ctx context.Context, to string) {
	payload := model.SnapshotPayload{Tracks: s.store.ListPlaying(), To: to}
	if err := s.registry.Send(ctx, model.MethodSyncAll, payload); err != nil {
		s.log.Warn("syncAll failed", zap.String("to", to), zap.Error(err))
	}
}

// Post queues fn to run on the session goroutine without waiting for it to
// run. Tasks run in the order they were posted. Post blocks while the queue
// is full and returns immediately once the session has stopped, so it must
// not be called from the session goroutine.
func (s *Session) Post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// Do runs fn on the session goroutine and waits for it to finish.
// It must not be called from the session goroutine.
func (s *Session) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Tracks returns a snapshot of every track.
func (s *Session) Tracks() []model.TrackState {
	return s.store.Tracks()
}

// Track returns one track.
func (s *Session) Track(id string) (model.TrackState, bool) {
	return s.store.Get(id)
}

// Messages returns the message log.
func (s *Session) Messages() []model.StoredMessage {
	return s.registry.Messages()
}

// ClearLog empties the message log.
func (s *Session) ClearLog() {
	s.registry.ClearLog()
}

// Send transmits a raw message, as typed by an operator.
func (s *Session) Send(ctx context.Context, method string, payload json.RawMessage) error {
	if method == "" {
		return fmt.Errorf("method is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	var err error
	if doErr := s.Do(ctx, func() { err = s.registry.Send(ctx, method, payload) }); doErr != nil {
		return doErr
	}
	return err
}

// SetEnabled toggles the full-sync gate. Enabling a player asks the gm for a
// catch-up snapshot.
func (s *Session) SetEnabled(ctx context.Context, enabled bool) error {
	return s.Do(ctx, func() {
		was := s.store.Enabled()
		s.store.SetEnabled(enabled)
		s.log.Info("sync gate changed", zap.Bool("enabled", enabled))
		if enabled && !was && s.role == config.RolePlayer && s.transport.State() == channel.StateOpen {
			s.requestSync(ctx)
		}
	})
}

func (s *Session) intent(ctx context.Context, fn func() error) error {
	var err error
	if doErr := s.Do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// TogglePlay relays a play/pause intent.
func (s *Session) TogglePlay(ctx context.Context, id string) error {
	return s.intent(ctx, func() error { return s.relay.TogglePlay(ctx, id) })
}

// SetVolume relays a volume intent.
func (s *Session) SetVolume(ctx context.Context, id string, volume int) error {
	return s.intent(ctx, func() error { return s.relay.SetVolume(ctx, id, volume) })
}

// ToggleRepeat relays a repeat intent.
func (s *Session) ToggleRepeat(ctx context.Context, id string) error {
	return s.intent(ctx, func() error { return s.relay.ToggleRepeat(ctx, id) })
}

// Seek relays a seek intent.
func (s *Session) Seek(ctx context.Context, id string, seconds float64) error {
	return s.intent(ctx, func() error { return s.relay.Seek(ctx, id, seconds) })
}

// Fade ramps a track's volume to target over d, then relays the final volume
// so peers converge on it. It blocks until the fade ends.
func (s *Session) Fade(ctx context.Context, id string, target int, d time.Duration) error {
	if err := s.fader.Fade(ctx, id, target, d); err != nil {
		return err
	}
	return s.SetVolume(ctx, id, target)
}

// ApplyConfig hot-applies the values that may change while running.
func (s *Session) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	return s.Do(ctx, func() {
		s.manager.SetDriftTolerance(cfg.DriftTolerance)
		s.transport.SetReconnectDelay(cfg.ReconnectDelay)
		s.relay.SetPolicy(intent.ParsePolicy(cfg.IntentPolicy))
		s.log.Info("config applied",
			zap.Float64("drift_tolerance", cfg.DriftTolerance),
			zap.Duration("reconnect_delay", cfg.ReconnectDelay),
			zap.String("intent_policy", cfg.IntentPolicy))
	})
}

// Status summarizes the session.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.Do(ctx, func() {
		st = Status{
			ID:               s.id,
			Role:             s.role,
			State:            s.transport.State().String(),
			ReconnectPending: s.transport.ReconnectPending(),
			Enabled:          s.store.Enabled(),
			Tracks:           len(s.store.Tracks()),
			Bound:            s.manager.Len(),
			Messages:         len(s.registry.Messages()),
			Malformed:        s.registry.MalformedCount(),
			MirrorDropped:    s.registry.MirrorDropped(),
			Policy:           string(s.relay.Policy()),
		}
	})
	return st, err
}
