// services/event-producer/internal/metrics/metrics.go
//
// Пакет metrics — prometheus-реализация batcher.Metrics и счётчики ingest'а.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaganovValera/event-producer/services/event-producer/internal/batcher"
)

const namespace = "event_producer"

// Sink пишет метрики батчера в prometheus. Имена, которых Sink не знает,
// молча пропускаются.
type Sink struct {
	histograms map[string]prometheus.Histogram
	counters   map[string]prometheus.Counter

	// ingest
	LinesRead      prometheus.Counter
	MalformedLines prometheus.Counter
	EnqueueErrors  prometheus.Counter
}

// New создаёт метрики и регистрирует их в reg (nil → DefaultRegisterer).
// Повторная регистрация тех же коллекторов не считается ошибкой.
func New(reg prometheus.Registerer) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Sink{
		histograms: map[string]prometheus.Histogram{
			batcher.MetricBatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: "batch", Name: "size_bytes",
				Help:    "Estimated size of a flushed batch (bytes)",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 11), // 1 KiB .. 1 MiB
			}),
			batcher.MetricBatchRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: "batch", Name: "records",
				Help:    "Number of records in a flushed batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 11),
			}),
			batcher.MetricSendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: "kafka", Name: "send_latency_seconds",
				Help:    "Batch send latency (seconds)",
				Buckets: prometheus.DefBuckets,
			}),
		},
		counters: map[string]prometheus.Counter{
			batcher.MetricSendSuccess: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "kafka", Name: "send_success_total",
				Help: "Batches accepted by the broker",
			}),
			batcher.MetricSendFailure: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "kafka", Name: "send_failure_total",
				Help: "Batches rejected by the broker",
			}),
			batcher.MetricSlowFlush: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "kafka", Name: "slow_flush_total",
				Help: "Batch sends that exceeded the slow flush threshold",
			}),
			batcher.MetricMalformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "batch", Name: "malformed_records_total",
				Help: "Records rejected before entering a batch",
			}),
			batcher.MetricLoopPanics: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "batch", Name: "flush_loop_panics_total",
				Help: "Panics recovered in the background flush loop",
			}),
		},
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "lines_total",
			Help: "Input lines read",
		}),
		MalformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "malformed_lines_total",
			Help: "Input lines that could not be decoded",
		}),
		EnqueueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "enqueue_errors_total",
			Help: "Enqueue calls that returned an error",
		}),
	}

	var err error
	if s.LinesRead, err = register(reg, s.LinesRead); err != nil {
		return nil, err
	}
	if s.MalformedLines, err = register(reg, s.MalformedLines); err != nil {
		return nil, err
	}
	if s.EnqueueErrors, err = register(reg, s.EnqueueErrors); err != nil {
		return nil, err
	}
	for name, h := range s.histograms {
		if s.histograms[name], err = register(reg, h); err != nil {
			return nil, err
		}
	}
	for name, c := range s.counters {
		if s.counters[name], err = register(reg, c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ObserveHistogram реализует batcher.Metrics.
func (s *Sink) ObserveHistogram(name string, value float64) {
	if h, ok := s.histograms[name]; ok {
		h.Observe(value)
	}
}

// IncrementCounter реализует batcher.Metrics.
func (s *Sink) IncrementCounter(name string) {
	if c, ok := s.counters[name]; ok {
		c.Inc()
	}
}

// register регистрирует c; если такой коллектор уже есть, возвращает его.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
