package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/splax/streamhealth/internal/domain"
)

// QueryResult is the provider answer for one sub-query. Timestamps and Values
// are parallel arrays; either may be missing.
type QueryResult struct {
	ID         string
	Label      string
	Timestamps []time.Time
	Values     []float64
}

type metricResults struct {
	base      *QueryResult
	filled    *QueryResult
	average   *QueryResult
	maximum   *QueryResult
	hasFilled bool
	present   bool
}

// FormatResults reshapes provider results into one FormattedMetric per metric
// of the batch that appears in the response, in batch order.
//
// Sub-results are matched to their queries by ID, falling back to the label
// when a provider does not echo IDs. Unmatched or malformed series degrade to
// empty data and absent statistics; they never fail the whole response.
func FormatResults(batch []MetricQuery, results []QueryResult, alignedStart time.Time, period domain.Period) []domain.FormattedMetric {
	byID := make(map[string]MetricQuery, len(batch))
	byLabel := make(map[string]MetricQuery, len(batch))
	order := make([]string, 0, len(batch))
	grouped := make(map[string]*metricResults)
	for _, q := range batch {
		byID[q.ID] = q
		byLabel[q.Label] = q
		group, ok := grouped[q.Metric]
		if !ok {
			group = &metricResults{}
			grouped[q.Metric] = group
			order = append(order, q.Metric)
		}
		if q.Kind == QueryFilled {
			group.hasFilled = true
		}
	}

	for i := range results {
		result := &results[i]
		q, ok := byID[result.ID]
		if !ok {
			if q, ok = byLabel[result.Label]; !ok {
				continue
			}
		}
		group := grouped[q.Metric]
		group.present = true
		switch q.Kind {
		case QueryBase:
			group.base = result
		case QueryFilled:
			group.filled = result
		case QueryAverage:
			group.average = result
		case QueryMaximum:
			group.maximum = result
		}
	}

	formatted := make([]domain.FormattedMetric, 0, len(order))
	for _, name := range order {
		group := grouped[name]
		if !group.present {
			continue
		}
		series := group.base
		if group.hasFilled {
			series = group.filled
		}
		formatted = append(formatted, domain.FormattedMetric{
			Label:            name,
			AlignedStartTime: alignedStart.UTC(),
			Period:           period,
			Data:             dataPoints(series),
			Statistics: domain.Statistics{
				Average: firstValue(group.average),
				Maximum: firstValue(group.maximum),
			},
		})
	}
	return formatted
}

func dataPoints(series *QueryResult) []domain.DataPoint {
	points := []domain.DataPoint{}
	if series == nil || len(series.Timestamps) == 0 || len(series.Timestamps) != len(series.Values) {
		return points
	}
	for i, ts := range series.Timestamps {
		value := series.Values[i]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		points = append(points, domain.DataPoint{Timestamp: ts.UTC(), Value: value})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

func firstValue(result *QueryResult) *float64 {
	if result == nil || len(result.Values) == 0 {
		return nil
	}
	value := result.Values[0]
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}
