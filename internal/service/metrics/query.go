package metrics

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/splax/streamhealth/internal/domain"
)

// QueryKind classifies a sub-query of a metric family.
type QueryKind int

const (
	// QueryBase is the raw statistic at the requested period.
	QueryBase QueryKind = iota
	// QueryFilled is the base series with gaps filled by the last known value.
	QueryFilled
	// QueryAverage is the window average, returned as a time series.
	QueryAverage
	// QueryMaximum is the window maximum, returned as a time series.
	QueryMaximum
)

func (k QueryKind) String() string {
	switch k {
	case QueryBase:
		return "base"
	case QueryFilled:
		return "filled"
	case QueryAverage:
		return "avg"
	case QueryMaximum:
		return "max"
	default:
		return "unknown"
	}
}

func (k QueryKind) labelSuffix() string {
	switch k {
	case QueryFilled:
		return "Filled"
	case QueryAverage:
		return "Avg"
	case QueryMaximum:
		return "Max"
	default:
		return ""
	}
}

// Provider-side statistics.
const (
	StatAverage = "Average"
	StatMaximum = "Maximum"
)

// TrackedMetric names a metric reported for every session.
type TrackedMetric struct {
	Name string
	Stat string
	// Chart metrics are returned as a time series; the others only carry
	// window statistics.
	Chart bool
}

// DefaultTrackedMetrics is the metric set reported on a session.
var DefaultTrackedMetrics = []TrackedMetric{
	{Name: "IngestFramerate", Stat: StatAverage, Chart: true},
	{Name: "IngestVideoBitrate", Stat: StatAverage, Chart: true},
	{Name: "IngestAudioBitrate", Stat: StatAverage, Chart: true},
	{Name: "ConcurrentViews", Stat: StatMaximum, Chart: true},
	{Name: "KeyframeInterval", Stat: StatAverage},
}

// MetricQuery is one unit of a metrics provider request.
type MetricQuery struct {
	ID         string
	Label      string
	Metric     string
	Kind       QueryKind
	Channel    string
	Stat       string
	Expression string
	Period     domain.Period
	ReturnData bool
}

// ComposeQueries builds the provider batch for the tracked metrics of a channel.
//
// Chart metrics get base, filled, average and maximum queries. The others get
// average and maximum only; their base query is still sent, hidden, because
// the aggregate expressions are computed over it.
func ComposeQueries(channel string, period domain.Period, metrics []TrackedMetric) []MetricQuery {
	queries := make([]MetricQuery, 0, len(metrics)*4)
	seen := make(map[string]struct{}, len(metrics))
	for _, metric := range metrics {
		name := strings.TrimSpace(metric.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		stat := metric.Stat
		if stat == "" {
			stat = StatAverage
		}
		base := MetricQuery{
			ID:         queryID(name, QueryBase),
			Label:      name,
			Metric:     name,
			Kind:       QueryBase,
			Channel:    channel,
			Stat:       stat,
			Period:     period,
			ReturnData: metric.Chart,
		}
		queries = append(queries, base)
		if metric.Chart {
			queries = append(queries, derivedQuery(base, QueryFilled, fmt.Sprintf("FILL(%s, REPEAT)", base.ID)))
		}
		queries = append(queries,
			derivedQuery(base, QueryAverage, fmt.Sprintf("TIME_SERIES(AVG(%s))", base.ID)),
			derivedQuery(base, QueryMaximum, fmt.Sprintf("TIME_SERIES(MAX(%s))", base.ID)),
		)
	}
	return queries
}

func derivedQuery(base MetricQuery, kind QueryKind, expression string) MetricQuery {
	return MetricQuery{
		ID:         queryID(base.Metric, kind),
		Label:      base.Metric + kind.labelSuffix(),
		Metric:     base.Metric,
		Kind:       kind,
		Channel:    base.Channel,
		Expression: expression,
		Period:     base.Period,
		ReturnData: true,
	}
}

// queryID derives a provider-safe identifier (^[a-z][a-zA-Z0-9_]*$).
func queryID(metric string, kind QueryKind) string {
	var b strings.Builder
	for _, r := range metric {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	id := b.String()
	if id == "" || id[0] < 'a' || id[0] > 'z' {
		id = "m" + id
	}
	return id + "_" + kind.String()
}
