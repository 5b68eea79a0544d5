package session

import (
	"context"
	"encoding/json"
	"fmt"

	"boardsync/config"
	"boardsync/core/dispatch"
	"boardsync/model"

	"go.uber.org/zap"
)

func (s *Session) registerHandlers() {
	s.registry.AddHandler(dispatch.HandlerFunc(s.handleSyncAll))
	s.registry.AddHandler(dispatch.HandlerFunc(s.handleSyncTrack))
	s.registry.AddHandler(dispatch.HandlerFunc(s.handleRemoveTrack))
	s.registry.AddHandler(dispatch.HandlerFunc(s.handleIntentEcho))
	s.registry.AddHandler(dispatch.HandlerFunc(s.handleSyncRequest))
	s.registry.AddHandler(dispatch.HandlerFunc(s.handleKeepalive))
}

func (s *Session) handleSyncAll(_ context.Context, msg *model.WireMessage) error {
	if msg.Method != model.MethodSyncAll {
		return nil
	}
	var payload model.SyncAllPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode syncAll: %w", err)
	}
	if payload.Tracks == nil {
		return fmt.Errorf("syncAll without tracks")
	}
	tracks := *payload.Tracks
	if !s.store.ReplaceAll(tracks) {
		s.log.Debug("syncAll ignored while sync is disabled", zap.Int("tracks", len(tracks)))
		return nil
	}
	s.log.Debug("syncAll applied", zap.Int("tracks", len(tracks)), zap.String("sender", msg.SenderID))
	return nil
}

func (s *Session) handleSyncTrack(_ context.Context, msg *model.WireMessage) error {
	if msg.Method != model.MethodSyncTrack {
		return nil
	}
	var patch model.TrackPatch
	if err := json.Unmarshal(msg.Payload, &patch); err != nil {
		return fmt.Errorf("decode syncTrack: %w", err)
	}
	if patch.ID == "" {
		return fmt.Errorf("syncTrack without id")
	}
	s.store.PatchTrack(patch)
	return nil
}

func (s *Session) handleRemoveTrack(_ context.Context, msg *model.WireMessage) error {
	if msg.Method != model.MethodRemoveTrack {
		return nil
	}
	var payload model.RemoveTrackPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode removeTrack: %w", err)
	}
	s.store.RemoveTrack(payload.ID)
	return nil
}

// handleIntentEcho applies play/pause/volume/repeat/seek relayed back by the
// server as incremental patches.
func (s *Session) handleIntentEcho(_ context.Context, msg *model.WireMessage) error {
	switch msg.Method {
	case model.MethodPlay, model.MethodPause, model.MethodVolume, model.MethodRepeat, model.MethodSeek:
	default:
		return nil
	}
	var payload model.IntentPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Method, err)
	}
	if payload.TrackID == "" {
		return fmt.Errorf("%s without trackId", msg.Method)
	}
	patch, _ := payload.Patch(msg.Method)
	if patch.IsEmpty() {
		return nil
	}
	s.store.PatchTrack(patch)
	return nil
}

func (s *Session) handleSyncRequest(ctx context.Context, msg *model.WireMessage) error {
	if msg.Method != model.MethodSyncRequest || s.role != config.RoleGM {
		return nil
	}
	s.broadcastSnapshot(ctx, msg.SenderID)
	return nil
}

func (s *Session) handleKeepalive(ctx context.Context, msg *model.WireMessage) error {
	switch msg.Method {
	case model.MethodPing:
		return s.registry.Send(ctx, model.MethodPong, msg.Payload)
	case model.MethodPong:
		s.log.Debug("pong received")
	}
	return nil
}
