package metrics

import (
	"time"

	"github.com/splax/streamhealth/internal/domain"
)

// Provider retention limits. Older data is only kept at coarser resolutions,
// so the age of the window start decides the finest period we may request.
const (
	highResolutionRetention = 3 * time.Hour
	oneMinuteRetention      = 15 * 24 * time.Hour
	fiveMinuteRetention     = 63 * 24 * time.Hour
)

// SelectPeriod returns the finest period the provider still retains for data
// that started at start, as seen from now.
func SelectPeriod(start, now time.Time) domain.Period {
	age := ageInSeconds(start, now)
	switch {
	case age > seconds(fiveMinuteRetention):
		return domain.Period1h
	case age > seconds(oneMinuteRetention):
		return domain.Period5m
	case age > seconds(highResolutionRetention):
		return domain.Period1m
	default:
		return domain.Period5s
	}
}

// ageInSeconds rounds the elapsed time up to whole seconds.
func ageInSeconds(start, now time.Time) int64 {
	elapsed := now.Sub(start)
	secs := int64(elapsed / time.Second)
	if elapsed%time.Second > 0 {
		secs++
	}
	return secs
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
