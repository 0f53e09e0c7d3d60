package domain

import (
	"encoding/json"
	"time"
)

// Session captures a single broadcast on a channel.
type Session struct {
	ChannelID           string
	ChannelARN          string
	SessionID           string
	StartTime           *time.Time
	EndTime             *time.Time
	IngestConfiguration *IngestConfiguration
	TruncatedEvents     []StreamEvent
	MetricsCache        map[string]json.RawMessage
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLive reports whether the session is still broadcasting.
func (s Session) IsLive() bool {
	return s.EndTime == nil
}

// SessionUpdate describes an additive, partial update of a session record.
// Nil fields are left untouched; cache entries are merged without
// replacing keys that already exist.
type SessionUpdate struct {
	MetricsCache        map[string]json.RawMessage
	IngestConfiguration *IngestConfiguration
	TruncatedEvents     []StreamEvent
}

// Empty reports whether the update carries nothing to persist.
func (u SessionUpdate) Empty() bool {
	return len(u.MetricsCache) == 0 && u.IngestConfiguration == nil && u.TruncatedEvents == nil
}

// IngestConfiguration describes the inbound audio and video stream.
type IngestConfiguration struct {
	Audio AudioConfiguration `json:"audio"`
	Video VideoConfiguration `json:"video"`
}

// AudioConfiguration holds the encoder settings of the audio track.
type AudioConfiguration struct {
	Channels      int64  `json:"channels"`
	Codec         string `json:"codec"`
	SampleRate    int64  `json:"sampleRate"`
	TargetBitrate int64  `json:"targetBitrate"`
}

// VideoConfiguration holds the encoder settings of the video track.
type VideoConfiguration struct {
	AvcLevel        string `json:"avcLevel"`
	AvcProfile      string `json:"avcProfile"`
	Codec           string `json:"codec"`
	Encoder         string `json:"encoder"`
	TargetBitrate   int64  `json:"targetBitrate"`
	TargetFramerate int64  `json:"targetFramerate"`
	VideoHeight     int64  `json:"videoHeight"`
	VideoWidth      int64  `json:"videoWidth"`
}

// Complete reports whether the audio descriptor has every field set.
func (a AudioConfiguration) Complete() bool {
	return a.Channels != 0 && a.Codec != "" && a.SampleRate != 0 && a.TargetBitrate != 0
}

// Complete reports whether the video descriptor has every field set.
func (v VideoConfiguration) Complete() bool {
	return v.AvcLevel != "" &&
		v.AvcProfile != "" &&
		v.Codec != "" &&
		v.Encoder != "" &&
		v.TargetBitrate != 0 &&
		v.TargetFramerate != 0 &&
		v.VideoHeight != 0 &&
		v.VideoWidth != 0
}

// Complete reports whether both descriptors are fully populated.
func (c IngestConfiguration) Complete() bool {
	return c.Audio.Complete() && c.Video.Complete()
}

// StreamEvent is a lifecycle event reported by the channel service.
type StreamEvent struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	EventTime time.Time `json:"eventTime"`
}

// StreamSessionDetails is the channel service view of a session.
type StreamSessionDetails struct {
	IngestConfiguration *IngestConfiguration
	TruncatedEvents     []StreamEvent
}
