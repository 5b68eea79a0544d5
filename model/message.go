package model

import (
	"encoding/json"
	"time"
)

// Method names carried by WireMessage.Method.
const (
	// Outbound user intents
	MethodPlay   = "play"
	MethodPause  = "pause"
	MethodVolume = "volume"
	MethodRepeat = "repeat"
	MethodSeek   = "seek"

	// Authoritative sync
	MethodSyncAll     = "syncAll"     // full-sync: replaces the whole track table
	MethodSyncTrack   = "syncTrack"   // incremental-sync: patches one track
	MethodRemoveTrack = "removeTrack" // explicit removal of one track
	MethodSyncRequest = "syncRequest" // catch-up request, answered with syncAll

	// Keepalive
	MethodPing = "ping"
	MethodPong = "pong"
)

// Direction records whether a stored message was sent or received.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// WireMessage is the unit of exchange on the sync channel.
type WireMessage struct {
	Method   string          `json:"method"`
	SenderID string          `json:"senderId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// StoredMessage is a WireMessage observed locally, kept for diagnostics.
type StoredMessage struct {
	WireMessage
	Timestamp int64     `json:"timestamp"` // wall-clock ms
	Direction Direction `json:"direction"`
}

// NewStoredMessage stamps msg with the current wall-clock time.
func NewStoredMessage(msg WireMessage, dir Direction) StoredMessage {
	return StoredMessage{
		WireMessage: msg,
		Timestamp:   time.Now().UnixMilli(),
		Direction:   dir,
	}
}

// SyncAllPayload is the payload of a full-sync message. Tracks is nil when
// the key is absent; an empty list is a real snapshot with nothing playing.
type SyncAllPayload struct {
	Tracks *[]TrackPatch `json:"tracks"`
	To     string       `json:"to,omitempty"` // target client, empty for everyone
}

// SnapshotPayload is the outbound form of a full-sync built from ListPlaying.
type SnapshotPayload struct {
	Tracks []TrackSummary `json:"tracks"`
	To     string         `json:"to,omitempty"`
}

// RemoveTrackPayload is the payload of an explicit removal message.
type RemoveTrackPayload struct {
	ID string `json:"id"`
}

// IntentPayload is the payload of play/pause/volume/repeat/seek messages.
type IntentPayload struct {
	TrackID     string   `json:"trackId"`
	Volume      *int     `json:"volume,omitempty"`
	Repeat      *bool    `json:"repeat,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
}

// Patch converts an intent for method into the equivalent track patch.
// ok is false for methods that are not intents.
func (p IntentPayload) Patch(method string) (patch TrackPatch, ok bool) {
	patch.ID = p.TrackID
	switch method {
	case MethodPlay:
		patch.IsPlaying = Bool(true)
	case MethodPause:
		patch.IsPlaying = Bool(false)
	case MethodVolume:
		patch.Volume = p.Volume
	case MethodRepeat:
		patch.IsRepeating = p.Repeat
	case MethodSeek:
		patch.CurrentTime = p.CurrentTime
	default:
		return TrackPatch{}, false
	}
	return patch, true
}
