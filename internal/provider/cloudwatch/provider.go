package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/splax/streamhealth/internal/service/metrics"
)

const (
	// DefaultNamespace holds the per-channel ingest and viewer metrics.
	DefaultNamespace = "AWS/IVS"
	channelDimension = "Channel"
	maxQueries       = 500
)

// ErrTooManyQueries is returned for batches the API would reject.
var ErrTooManyQueries = errors.New("metric query batch too large")

// Provider answers metric query batches through GetMetricData.
type Provider struct {
	client    cloudwatch.GetMetricDataAPIClient
	namespace string
}

// New wraps a GetMetricData client. An empty namespace selects DefaultNamespace.
func New(client cloudwatch.GetMetricDataAPIClient, namespace string) *Provider {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Provider{client: client, namespace: namespace}
}

// QueryMetrics runs the batch over [start, end) and merges every result page.
// Series come back in ascending timestamp order.
func (p *Provider) QueryMetrics(ctx context.Context, queries []metrics.MetricQuery, start, end time.Time) ([]metrics.QueryResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if len(queries) > maxQueries {
		return nil, fmt.Errorf("%w: %d queries", ErrTooManyQueries, len(queries))
	}

	// The API rejects empty ranges; a zero-length window still covers the
	// period it starts.
	if !end.After(start) {
		end = start.Add(queries[0].Period.Duration())
	}

	input := &cloudwatch.GetMetricDataInput{
		MetricDataQueries: make([]types.MetricDataQuery, 0, len(queries)),
		StartTime:         aws.Time(start.UTC()),
		EndTime:           aws.Time(end.UTC()),
		ScanBy:            types.ScanByTimestampAscending,
	}
	for _, q := range queries {
		input.MetricDataQueries = append(input.MetricDataQueries, p.dataQuery(q))
	}

	merged := make(map[string]*metrics.QueryResult, len(queries))
	order := make([]string, 0, len(queries))
	paginator := cloudwatch.NewGetMetricDataPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get metric data: %w", err)
		}
		for _, r := range page.MetricDataResults {
			id := aws.ToString(r.Id)
			result, ok := merged[id]
			if !ok {
				result = &metrics.QueryResult{ID: id, Label: aws.ToString(r.Label)}
				merged[id] = result
				order = append(order, id)
			}
			result.Timestamps = append(result.Timestamps, r.Timestamps...)
			result.Values = append(result.Values, r.Values...)
		}
	}

	results := make([]metrics.QueryResult, 0, len(order))
	for _, id := range order {
		results = append(results, *merged[id])
	}
	return results, nil
}

func (p *Provider) dataQuery(q metrics.MetricQuery) types.MetricDataQuery {
	period := int32(q.Period.Seconds())
	out := types.MetricDataQuery{
		Id:         aws.String(q.ID),
		Label:      aws.String(q.Label),
		ReturnData: aws.Bool(q.ReturnData),
	}
	if q.Expression != "" {
		out.Expression = aws.String(q.Expression)
		out.Period = aws.Int32(period)
		return out
	}
	out.MetricStat = &types.MetricStat{
		Metric: &types.Metric{
			Namespace:  aws.String(p.namespace),
			MetricName: aws.String(q.Metric),
			Dimensions: []types.Dimension{{
				Name:  aws.String(channelDimension),
				Value: aws.String(q.Channel),
			}},
		},
		Period: aws.Int32(period),
		Stat:   aws.String(q.Stat),
	}
	return out
}
