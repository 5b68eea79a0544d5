// Package server exposes a session over a small HTTP API for operators and
// debugging: track inspection, the message log and the local intents.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"boardsync/core/session"
	"boardsync/logger"
	"boardsync/model"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Session is the part of *session.Session the API drives.
type Session interface {
	Tracks() []model.TrackState
	Track(id string) (model.TrackState, bool)
	Messages() []model.StoredMessage
	ClearLog()
	Send(ctx context.Context, method string, payload json.RawMessage) error
	SetEnabled(ctx context.Context, enabled bool) error
	TogglePlay(ctx context.Context, id string) error
	SetVolume(ctx context.Context, id string, volume int) error
	ToggleRepeat(ctx context.Context, id string) error
	Seek(ctx context.Context, id string, seconds float64) error
	Fade(ctx context.Context, id string, target int, d time.Duration) error
	Status(ctx context.Context) (session.Status, error)
}

// Server serves the API for one session.
type Server struct {
	sess   Session
	router *mux.Router
	log    *zap.Logger

	// fades outlive the request that started them and stop with the server
	fadeCtx    context.Context
	cancelFade context.CancelFunc
}

// New builds the router.
func New(sess Session) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		sess:       sess,
		router:     mux.NewRouter(),
		log:        logger.Named("server"),
		fadeCtx:    ctx,
		cancelFade: cancel,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/debug/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/tracks", s.handleTracks).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/messages", s.handleMessages).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/messages", s.handleClearMessages).Methods(http.MethodDelete)
	s.router.HandleFunc("/debug/send", s.handleSend).Methods(http.MethodPost)
	s.router.HandleFunc("/debug/sync", s.handleSetSync).Methods(http.MethodPut)

	s.router.HandleFunc("/tracks/{id}", s.handleTrack).Methods(http.MethodGet)
	s.router.HandleFunc("/tracks/{id}/toggle", s.handleToggle).Methods(http.MethodPost)
	s.router.HandleFunc("/tracks/{id}/volume", s.handleVolume).Methods(http.MethodPut)
	s.router.HandleFunc("/tracks/{id}/repeat", s.handleRepeat).Methods(http.MethodPost)
	s.router.HandleFunc("/tracks/{id}/seek", s.handleSeek).Methods(http.MethodPut)
	s.router.HandleFunc("/tracks/{id}/fade", s.handleFade).Methods(http.MethodPost)

	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("debug API listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.cancelFade()
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down debug API")
	s.cancelFade()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
