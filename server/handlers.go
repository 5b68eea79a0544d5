package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"boardsync/core/dispatch"
	"boardsync/core/fade"
	"boardsync/core/intent"
	"boardsync/core/session"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSessionError maps session errors to status codes.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intent.ErrUnknownTrack), errors.Is(err, fade.ErrUnknownTrack):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrChannelUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Warn("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sess.Status(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tracks": s.sess.Tracks()})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.sess.Track(id)
	if !ok {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.sess.Messages()})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	s.sess.ClearLog()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method  string          `json:"method"`
		Payload json.RawMessage `json:"payload"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "method is required")
		return
	}
	if err := s.sess.Send(r.Context(), req.Method, req.Payload); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "sent"})
}

func (s *Server) handleSetSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.sess.SetEnabled(r.Context(), *req.Enabled); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.TogglePlay(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *int `json:"volume"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume is required")
		return
	}
	if err := s.sess.SetVolume(r.Context(), mux.Vars(r)["id"], *req.Volume); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ToggleRepeat(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentTime *float64 `json:"currentTime"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CurrentTime == nil {
		writeError(w, http.StatusBadRequest, "currentTime is required")
		return
	}
	if err := s.sess.Seek(r.Context(), mux.Vars(r)["id"], *req.CurrentTime); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleFade starts a fade and returns before it completes.
func (s *Server) handleFade(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Target     *int  `json:"target"`
		DurationMs int64 `json:"durationMs"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Target == nil {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if req.DurationMs < 0 {
		writeError(w, http.StatusBadRequest, "durationMs must not be negative")
		return
	}
	if _, ok := s.sess.Track(id); !ok {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}

	target := *req.Target
	d := time.Duration(req.DurationMs) * time.Millisecond
	go func() {
		if err := s.sess.Fade(s.fadeCtx, id, target, d); err != nil && !errors.Is(err, fade.ErrSuperseded) {
			s.log.Warn("fade failed", zap.String("track", id), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"track": id, "target": target, "durationMs": req.DurationMs})
}
