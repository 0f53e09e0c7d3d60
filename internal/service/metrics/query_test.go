package metrics

import (
	"regexp"
	"testing"

	"github.com/splax/streamhealth/internal/domain"
)

var providerIDPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)

func TestComposeQueriesChartAndAggregateMetrics(t *testing.T) {
	tracked := []TrackedMetric{
		{Name: "IngestFramerate", Stat: StatAverage, Chart: true},
		{Name: "KeyframeInterval"},
	}
	queries := ComposeQueries("chan-1", domain.Period1m, tracked)
	if len(queries) != 7 {
		t.Fatalf("expected 7 queries, got %d", len(queries))
	}

	type expectation struct {
		label      string
		kind       QueryKind
		returnData bool
		expression string
	}
	want := []expectation{
		{label: "IngestFramerate", kind: QueryBase, returnData: true},
		{label: "IngestFramerateFilled", kind: QueryFilled, returnData: true, expression: "FILL(ingestframerate_base, REPEAT)"},
		{label: "IngestFramerateAvg", kind: QueryAverage, returnData: true, expression: "TIME_SERIES(AVG(ingestframerate_base))"},
		{label: "IngestFramerateMax", kind: QueryMaximum, returnData: true, expression: "TIME_SERIES(MAX(ingestframerate_base))"},
		{label: "KeyframeInterval", kind: QueryBase, returnData: false},
		{label: "KeyframeIntervalAvg", kind: QueryAverage, returnData: true, expression: "TIME_SERIES(AVG(keyframeinterval_base))"},
		{label: "KeyframeIntervalMax", kind: QueryMaximum, returnData: true, expression: "TIME_SERIES(MAX(keyframeinterval_base))"},
	}
	ids := make(map[string]struct{})
	for i, q := range queries {
		w := want[i]
		if q.Label != w.label || q.Kind != w.kind || q.ReturnData != w.returnData || q.Expression != w.expression {
			t.Fatalf("query %d: expected %+v, got %+v", i, w, q)
		}
		if q.Period != domain.Period1m {
			t.Fatalf("query %d: expected period 60, got %d", i, q.Period)
		}
		if q.Channel != "chan-1" {
			t.Fatalf("query %d: expected channel chan-1, got %q", i, q.Channel)
		}
		if !providerIDPattern.MatchString(q.ID) {
			t.Fatalf("query %d: id %q is not provider safe", i, q.ID)
		}
		if _, dup := ids[q.ID]; dup {
			t.Fatalf("duplicate query id %q", q.ID)
		}
		ids[q.ID] = struct{}{}
	}
	if queries[0].Stat != StatAverage || queries[4].Stat != StatAverage {
		t.Fatalf("expected base queries to default to the average statistic")
	}
}

func TestComposeQueriesSkipsBlankAndDuplicateNames(t *testing.T) {
	queries := ComposeQueries("chan-1", domain.Period5s, []TrackedMetric{
		{Name: " "},
		{Name: "ConcurrentViews", Stat: StatMaximum, Chart: true},
		{Name: "ConcurrentViews", Stat: StatMaximum, Chart: true},
	})
	if len(queries) != 4 {
		t.Fatalf("expected 4 queries, got %d", len(queries))
	}
}

func TestQueryIDSanitisesNames(t *testing.T) {
	if got := queryID("9-Lives", QueryAverage); got != "m9_lives_avg" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := queryID("FramerateAvg", QueryBase); got != "framerateavg_base" {
		t.Fatalf("unexpected id %q", got)
	}
}
