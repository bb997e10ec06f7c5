package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/YaganovValera/event-producer/services/event-producer/internal/batcher"
)

func TestSink_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}

	s.IncrementCounter(batcher.MetricSendSuccess)
	s.IncrementCounter(batcher.MetricSendSuccess)
	s.IncrementCounter(batcher.MetricSendFailure)
	s.IncrementCounter("unknown_metric")

	if got := testutil.ToFloat64(s.counters[batcher.MetricSendSuccess]); got != 2 {
		t.Errorf("send_success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.counters[batcher.MetricSendFailure]); got != 1 {
		t.Errorf("send_failure = %v, want 1", got)
	}
}

func TestSink_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	s.ObserveHistogram(batcher.MetricBatchBytes, 4096)
	s.ObserveHistogram(batcher.MetricBatchRecords, 12)
	s.ObserveHistogram("unknown_metric", 1)

	expected := `
# HELP event_producer_batch_records Number of records in a flushed batch
# TYPE event_producer_batch_records histogram
event_producer_batch_records_bucket{le="1"} 0
event_producer_batch_records_bucket{le="2"} 0
event_producer_batch_records_bucket{le="4"} 0
event_producer_batch_records_bucket{le="8"} 0
event_producer_batch_records_bucket{le="16"} 1
event_producer_batch_records_bucket{le="32"} 1
event_producer_batch_records_bucket{le="64"} 1
event_producer_batch_records_bucket{le="128"} 1
event_producer_batch_records_bucket{le="256"} 1
event_producer_batch_records_bucket{le="512"} 1
event_producer_batch_records_bucket{le="1024"} 1
event_producer_batch_records_bucket{le="+Inf"} 1
event_producer_batch_records_sum 12
event_producer_batch_records_count 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "event_producer_batch_records"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(s.histograms[batcher.MetricBatchBytes]); n != 1 {
		t.Errorf("batch_bytes series = %d", n)
	}
}

func TestNew_TwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	second.IncrementCounter(batcher.MetricSlowFlush)
	if got := testutil.ToFloat64(first.counters[batcher.MetricSlowFlush]); got != 1 {
		t.Errorf("second Sink does not share registered collectors: %v", got)
	}
}

var _ batcher.Metrics = (*Sink)(nil)
