package model

import "time"

// Default playback values for a freshly initialized track.
const (
	DefaultVolume = 100
	MinVolume     = 0
	MaxVolume     = 100
)

// TrackState is the shared playback state of one track.
// IsPlaying and CurrentTime are declared intent, not what the element reports.
type TrackState struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	IsPlaying   bool    `json:"isPlaying"`
	Volume      int     `json:"volume"`      // 0-100, element volume is Volume/100
	IsRepeating bool    `json:"isRepeating"` // element loop flag
	CurrentTime float64 `json:"currentTime"` // seconds
	Duration    float64 `json:"duration"`    // seconds, discovered from the element
}

// NewTrackState returns a track with default playback values.
func NewTrackState(id, name string) TrackState {
	return TrackState{
		ID:     id,
		Name:   name,
		Volume: DefaultVolume,
	}
}

// ElementVolume converts the 0-100 volume into the 0.0-1.0 element range.
func (t TrackState) ElementVolume() float64 {
	return float64(ClampVolume(t.Volume)) / 100
}

// Summary projects the state to the fields a peer needs to resynchronize.
func (t TrackState) Summary() TrackSummary {
	return TrackSummary{
		ID:          t.ID,
		IsPlaying:   t.IsPlaying,
		Volume:      t.Volume,
		IsRepeating: t.IsRepeating,
		CurrentTime: t.CurrentTime,
	}
}

// Apply merges the non-nil fields of p into a copy of t.
func (t TrackState) Apply(p TrackPatch) TrackState {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.IsPlaying != nil {
		t.IsPlaying = *p.IsPlaying
	}
	if p.Volume != nil {
		t.Volume = ClampVolume(*p.Volume)
	}
	if p.IsRepeating != nil {
		t.IsRepeating = *p.IsRepeating
	}
	if p.CurrentTime != nil {
		t.CurrentTime = *p.CurrentTime
	}
	if p.Duration != nil {
		t.Duration = *p.Duration
	}
	return t
}

// ClampVolume bounds v to the 0-100 range.
func ClampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// TrackPatch is a partial update of a TrackState. Nil fields are left untouched.
//
// Duration never travels on the wire: it is only discovered locally from the
// media element, so sync messages cannot overwrite it.
type TrackPatch struct {
	ID          string   `json:"id"`
	Name        *string  `json:"name,omitempty"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	Volume      *int     `json:"volume,omitempty"`
	IsRepeating *bool    `json:"isRepeating,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	Duration    *float64 `json:"-"`
}

// IsEmpty reports whether the patch carries no field updates.
func (p TrackPatch) IsEmpty() bool {
	return p.Name == nil && p.IsPlaying == nil && p.Volume == nil &&
		p.IsRepeating == nil && p.CurrentTime == nil && p.Duration == nil
}

// TrackSummary is the minimal resync projection of a playing track.
type TrackSummary struct {
	ID          string  `json:"id"`
	IsPlaying   bool    `json:"isPlaying"`
	Volume      int     `json:"volume"`
	IsRepeating bool    `json:"isRepeating"`
	CurrentTime float64 `json:"currentTime"`
}

// Patch converts the summary into a patch that sets every summarized field.
func (s TrackSummary) Patch() TrackPatch {
	return TrackPatch{
		ID:          s.ID,
		IsPlaying:   Bool(s.IsPlaying),
		Volume:      Int(s.Volume),
		IsRepeating: Bool(s.IsRepeating),
		CurrentTime: Float64(s.CurrentTime),
	}
}

// FadeStatus tracks whether a volume fade currently owns a track's volume.
type FadeStatus struct {
	InProgress bool `json:"inProgress"`
}

// CatalogTrack is a track record served by the HTTP resource API.
type CatalogTrack struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	TypeID    string    `json:"typeID"`
	CreatedAt time.Time `json:"createdAt"`
}

// TrackType groups catalog tracks and carries their playback defaults.
type TrackType struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Color                 string `json:"color"`
	IsRepeating           bool   `json:"isRepeating"`
	AllowSimultaneousPlay bool   `json:"allowSimultaneousPlay"`
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
