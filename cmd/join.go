package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"boardsync/cache"
	"boardsync/config"
	"boardsync/core/audio"
	"boardsync/core/auth"
	"boardsync/core/catalog"
	"boardsync/core/player"
	"boardsync/core/session"
	"boardsync/logger"
	"boardsync/server"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	joinRole   string
	joinNoSeed bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a board's sync channel as gm or player",
	Long: `Connects to the board's sync channel, keeps the local track table in
sync and drives headless elements from it. With debug_addr set the session is
also exposed over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("role") {
			cfg.Role = joinRole
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runJoin(ctx, cfg)
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinRole, "role", config.RolePlayer, "gm or player")
	joinCmd.Flags().BoolVar(&joinNoSeed, "no-catalog", false, "skip loading track names from the catalog")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(ctx context.Context, cfg *config.Config) error {
	warnOnToken(cfg.Token)

	opts := session.Options{
		Config: cfg,
		Elements: player.NewFactory(player.Options{
			Prober:   audio.NewFFprobe(cfg.FFprobePath),
			Autoplay: cfg.Autoplay,
		}),
	}

	if client, err := catalog.NewClient(cfg.APIBaseURL, cfg.Token); err != nil {
		logger.Warn("catalog unavailable", logger.ErrorField(err))
	} else {
		opts.Source = client.StreamURL
		if !joinNoSeed {
			seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			seed, err := client.LoadSeed(seedCtx)
			cancel()
			if err != nil {
				logger.Warn("catalog seed failed, tracks will be unnamed", logger.ErrorField(err))
			} else {
				opts.Seed = &seed
				opts.SeedTracks = cfg.Role == config.RoleGM
			}
		}
	}

	if cfg.RedisEnabled {
		client, err := cache.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.ID = uuid.New().String()
		opts.Sink = cache.NewMessageLogCache(client, opts.ID, cfg.HistoryLimit, cfg.RedisLogTTL)
		logger.Info("mirroring message log to Redis", logger.String("key", cache.MessageLogKey(opts.ID)))
	}

	sess, err := session.New(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	if cfg.DebugAddr != "" {
		g.Go(func() error {
			return server.New(sess).ListenAndServe(gctx, cfg.DebugAddr)
		})
	}
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(next *config.Config) {
				if err := sess.ApplyConfig(gctx, next); err != nil && !errors.Is(err, session.ErrClosed) {
					logger.Warn("config apply failed", logger.ErrorField(err))
				}
			})
		})
	}

	logger.Info("joined board",
		logger.String("session", sess.ID()),
		logger.String("role", cfg.Role),
		logger.String("api", cfg.APIBaseURL))
	return g.Wait()
}

// warnOnToken logs what the token claims. The server decides whether to
// accept it.
func warnOnToken(token string) {
	info, err := auth.Inspect(token, time.Now())
	switch {
	case errors.Is(err, auth.ErrEmptyToken):
		logger.Info("joining without a token")
	case err != nil:
		logger.Warn("token is not a readable JWT", logger.ErrorField(err))
	case info.Expired:
		logger.Warn("token has expired", logger.String("subject", info.Subject), logger.Any("expires_at", info.ExpiresAt))
	default:
		logger.Info("token loaded", logger.String("subject", info.Subject), logger.Any("expires_at", info.ExpiresAt))
	}
}
