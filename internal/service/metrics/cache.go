package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/splax/streamhealth/internal/domain"
)

// CacheKey identifies a formatted result by its period and aligned window.
func CacheKey(period domain.Period, alignedStart, alignedEnd time.Time) string {
	return fmt.Sprintf("%d:%d:%d", period.Seconds(), alignedStart.Unix(), alignedEnd.Unix())
}

// The stored form keeps timestamps as strings so entries stay plain JSON
// documents in the session store.
type cachedMetric struct {
	Label            string            `json:"label"`
	AlignedStartTime string            `json:"alignedStartTime"`
	Period           domain.Period     `json:"period"`
	Data             []cachedDataPoint `json:"data"`
	Statistics       domain.Statistics `json:"statistics"`
}

type cachedDataPoint struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

func encodeMetrics(metrics []domain.FormattedMetric) (json.RawMessage, error) {
	stored := make([]cachedMetric, 0, len(metrics))
	for _, metric := range metrics {
		entry := cachedMetric{
			Label:            metric.Label,
			AlignedStartTime: formatTimestamp(metric.AlignedStartTime),
			Period:           metric.Period,
			Data:             make([]cachedDataPoint, 0, len(metric.Data)),
			Statistics:       metric.Statistics,
		}
		for _, point := range metric.Data {
			entry.Data = append(entry.Data, cachedDataPoint{
				Timestamp: formatTimestamp(point.Timestamp),
				Value:     point.Value,
			})
		}
		stored = append(stored, entry)
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode cached metrics: %w", err)
	}
	return raw, nil
}

func decodeMetrics(raw json.RawMessage) ([]domain.FormattedMetric, error) {
	var stored []cachedMetric
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode cached metrics: %w", err)
	}
	metrics := make([]domain.FormattedMetric, 0, len(stored))
	for _, entry := range stored {
		alignedStart, err := parseTimestamp(entry.AlignedStartTime)
		if err != nil {
			return nil, fmt.Errorf("decode cached metric %q: %w", entry.Label, err)
		}
		metric := domain.FormattedMetric{
			Label:            entry.Label,
			AlignedStartTime: alignedStart,
			Period:           entry.Period,
			Data:             make([]domain.DataPoint, 0, len(entry.Data)),
			Statistics:       entry.Statistics,
		}
		for _, point := range entry.Data {
			ts, err := parseTimestamp(point.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("decode cached metric %q: %w", entry.Label, err)
			}
			metric.Data = append(metric.Data, domain.DataPoint{Timestamp: ts, Value: point.Value})
		}
		metrics = append(metrics, metric)
	}
	return metrics, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
