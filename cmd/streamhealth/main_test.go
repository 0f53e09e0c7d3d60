package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	apiclient "github.com/splax/streamhealth/pkg/api/client"
)

func TestPrintMetrics(t *testing.T) {
	avg, peak := 29.5, 30.0
	start := time.Date(2025, time.March, 3, 11, 0, 0, 0, time.UTC)
	metrics := apiclient.SessionMetrics{
		ChannelID:        "chan-1",
		SessionID:        "st-1",
		Live:             true,
		Period:           5,
		AlignedStartTime: start,
		AlignedEndTime:   start.Add(5 * time.Minute),
		Metrics: []apiclient.Metric{
			{Label: "IngestFramerate", Data: make([]apiclient.DataPoint, 3), Statistics: apiclient.Statistics{Average: &avg, Maximum: &peak}},
			{Label: "KeyframeInterval", Data: []apiclient.DataPoint{}},
		},
	}

	var out bytes.Buffer
	if err := printMetrics(&out, metrics); err != nil {
		t.Fatalf("print metrics: %v", err)
	}
	text := out.String()
	for _, want := range []string{"session st-1 on chan-1 (live, period 5s, cached=false)", "IngestFramerate", "29.50", "30.00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	last := strings.Fields(lines[len(lines)-1])
	if strings.Join(last, " ") != "KeyframeInterval 0 - -" {
		t.Fatalf("unexpected row %q", lines[len(lines)-1])
	}
}
