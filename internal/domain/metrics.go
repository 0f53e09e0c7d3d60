package domain

import "time"

// Period is a sampling resolution in seconds.
type Period int

// Supported sampling resolutions, finest first.
const (
	Period5s Period = 5
	Period1m Period = 60
	Period5m Period = 300
	Period1h Period = 3600
)

// Seconds returns the period as a whole number of seconds.
func (p Period) Seconds() int64 {
	return int64(p)
}

// Duration returns the period as a time.Duration.
func (p Period) Duration() time.Duration {
	return time.Duration(p) * time.Second
}

// DataPoint is a single timestamped sample.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Statistics summarises a metric over the whole query window.
type Statistics struct {
	Average *float64 `json:"average,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
}

// FormattedMetric is the client-facing shape of one tracked metric.
type FormattedMetric struct {
	Label            string      `json:"label"`
	AlignedStartTime time.Time   `json:"alignedStartTime"`
	Period           Period      `json:"period"`
	Data             []DataPoint `json:"data"`
	Statistics       Statistics  `json:"statistics"`
}

// SessionMetrics is the resolved health report of a session.
type SessionMetrics struct {
	ChannelID           string               `json:"channelId"`
	SessionID           string               `json:"sessionId"`
	StartTime           *time.Time           `json:"startTime,omitempty"`
	EndTime             *time.Time           `json:"endTime,omitempty"`
	Live                bool                 `json:"live"`
	Period              Period               `json:"period"`
	AlignedStartTime    time.Time            `json:"alignedStartTime"`
	AlignedEndTime      time.Time            `json:"alignedEndTime"`
	Metrics             []FormattedMetric    `json:"metrics"`
	IngestConfiguration *IngestConfiguration `json:"ingestConfiguration,omitempty"`
	TruncatedEvents     []StreamEvent        `json:"truncatedEvents,omitempty"`
	Cached              bool                 `json:"cached"`
}
