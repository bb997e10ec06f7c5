package batcher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YaganovValera/event-producer/common/kafka"
)

// ---------------------------------------------------------------------------
// fakeSender
// ---------------------------------------------------------------------------

type sendCall struct {
	records []kafka.Record
	codec   kafka.Compression
}

type fakeSender struct {
	mu     sync.Mutex
	calls  []sendCall
	err    error
	closed int
	// gate, если задан, блокирует первую отправку до закрытия канала.
	gate    chan struct{}
	started chan struct{}
	panicOn int // номер вызова (с 1), на котором паниковать
}

func (f *fakeSender) SendBatch(_ context.Context, records []kafka.Record, codec kafka.Compression) error {
	f.mu.Lock()
	n := len(f.calls) + 1
	cp := append([]kafka.Record(nil), records...)
	f.calls = append(f.calls, sendCall{records: cp, codec: codec})
	gate, started, err, panicOn := f.gate, f.started, f.err, f.panicOn
	if n == 1 {
		f.gate = nil
	}
	f.mu.Unlock()

	if panicOn == n {
		panic("sender exploded")
	}
	if n == 1 && gate != nil {
		if started != nil {
			close(started)
		}
		<-gate
	}
	return err
}

func (f *fakeSender) Ping(context.Context) error { return nil }

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) snapshot() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

func (f *fakeSender) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSender) sent() []kafka.Record {
	var out []kafka.Record
	for _, c := range f.snapshot() {
		out = append(out, c.records...)
	}
	return out
}

// ---------------------------------------------------------------------------
// recordingReporter / recordingMetrics
// ---------------------------------------------------------------------------

type reportCall struct {
	err error
	bc  BatchContext
}

type recordingReporter struct {
	mu    sync.Mutex
	calls []reportCall
}

func (r *recordingReporter) ReportError(_ context.Context, err error, bc BatchContext) {
	r.mu.Lock()
	r.calls = append(r.calls, reportCall{err: err, bc: bc})
	r.mu.Unlock()
}

func (r *recordingReporter) snapshot() []reportCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportCall(nil), r.calls...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
	hists    map[string][]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]int{}, hists: map[string][]float64{}}
}

func (m *recordingMetrics) ObserveHistogram(name string, v float64) {
	m.mu.Lock()
	m.hists[name] = append(m.hists[name], v)
	m.mu.Unlock()
}

func (m *recordingMetrics) IncrementCounter(name string) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()
}

func (m *recordingMetrics) counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *recordingMetrics) observations(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.hists[name]...)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// fakeClock — ручные часы для проверки порога по возрасту.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordOfSize строит запись с оценочным размером ровно n байт.
func recordOfSize(t *testing.T, topic string, n int) kafka.Record {
	t.Helper()
	rec := kafka.Record{Topic: topic, Messages: []kafka.Message{{Value: []byte{}}}}
	base, err := EstimateSize(rec)
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if n < base {
		t.Fatalf("record of %d bytes is smaller than the empty envelope (%d)", n, base)
	}
	rec.Messages[0].Value = []byte(strings.Repeat("a", n-base))
	if got, _ := EstimateSize(rec); got != n {
		t.Fatalf("recordOfSize: got %d, want %d", got, n)
	}
	return rec
}

func valueRecord(topic, value string) kafka.Record {
	return kafka.Record{Topic: topic, Messages: []kafka.Message{{Value: []byte(value)}}}
}

func newTestProducer(t *testing.T, cfg Config, s kafka.BatchSender, r ErrorReporter, m Metrics) *Producer {
	t.Helper()
	p, err := New(cfg, s, r, m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// waitFor опрашивает cond до таймаута.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func values(records []kafka.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Messages[0].Value)
	}
	return out
}
