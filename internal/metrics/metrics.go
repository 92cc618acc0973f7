// Package metrics counts dispatch outcomes and publishes them to CloudWatch.
package metrics

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Publisher publishes metric values
type Publisher interface {
	PublishMetrics(ctx context.Context, values map[string]float64) error
}

// CloudWatchClient defines the interface for CloudWatch operations
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// maxDatumsPerCall is the PutMetricData limit on metric data per request
const maxDatumsPerCall = 1000

// CloudWatchPublisher implements Publisher using CloudWatch
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
}

// NewCloudWatchPublisher creates a new CloudWatchPublisher
func NewCloudWatchPublisher(client CloudWatchClient, namespace string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
	}
}

// PublishMetrics publishes count metrics to CloudWatch
func (p *CloudWatchPublisher) PublishMetrics(ctx context.Context, values map[string]float64) error {
	names := slices.Sorted(maps.Keys(values))
	for start := 0; start < len(names); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(names))
		data := make([]types.MetricDatum, 0, end-start)
		for _, name := range names[start:end] {
			data = append(data, types.MetricDatum{
				MetricName: aws.String(name),
				Value:      aws.Float64(values[name]),
				Unit:       types.StandardUnitCount,
			})
		}
		if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Recorder accumulates counters in memory until flushed
type Recorder struct {
	mu     sync.Mutex
	counts map[string]float64
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]float64)}
}

// Increment adds one to the named counter
func (r *Recorder) Increment(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++
}

// Snapshot returns a copy of the current counters
func (r *Recorder) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.counts)
}

// Flush publishes and resets the counters. Counters are restored if
// publishing fails so they are retried on the next flush.
func (r *Recorder) Flush(ctx context.Context, publisher Publisher) error {
	r.mu.Lock()
	counts := r.counts
	r.counts = make(map[string]float64)
	r.mu.Unlock()

	if len(counts) == 0 {
		return nil
	}

	if err := publisher.PublishMetrics(ctx, counts); err != nil {
		r.mu.Lock()
		for name, v := range counts {
			r.counts[name] += v
		}
		r.mu.Unlock()
		return err
	}
	return nil
}
