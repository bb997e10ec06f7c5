// Пакет ingest читает записи в формате NDJSON (по одной на строку) и ставит
// их в батчер.
//
// Формат строки:
//
//	{"topic":"clicks","key":"user-1","messages":[{"key":"k","value":{...}}]}
//
// value — произвольный JSON; строка JSON уходит как есть, без кавычек.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/kafka"
	"github.com/YaganovValera/event-producer/common/logger"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/batcher"
)

// MaxLineBytes — верхняя граница длины строки.
const MaxLineBytes = 4 << 20

// Enqueuer — то, что Reader умеет кормить (batcher.Producer).
type Enqueuer interface {
	Enqueue(ctx context.Context, rec kafka.Record) error
}

// Counters — счётчики ingest'а; nil-поля допустимы.
type Counters struct {
	LinesRead      interface{ Inc() }
	MalformedLines interface{ Inc() }
	EnqueueErrors  interface{ Inc() }
}

// Stats — итог Run.
type Stats struct {
	Lines     int
	Enqueued  int
	Malformed int
	Failed    int
}

type lineMessage struct {
	Key   *string         `json:"key"`
	Value json.RawMessage `json:"value"`
}

type line struct {
	Topic    string        `json:"topic"`
	Key      *string       `json:"key"`
	Messages []lineMessage `json:"messages"`
}

// Reader построчно разбирает вход и вызывает Enqueue.
type Reader struct {
	dst      Enqueuer
	counters Counters
	log      *logger.Logger
}

// New создаёт Reader.
func New(dst Enqueuer, counters Counters, log *logger.Logger) *Reader {
	return &Reader{dst: dst, counters: counters, log: log.Named("ingest")}
}

// Run читает r до EOF или отмены ctx. Битые строки и отклонённые записи
// логируются и пропускаются; ошибка отправки пачки тоже не останавливает
// чтение. Возвращает ошибку только при сбое чтения или ErrClosed батчера.
func (r *Reader) Run(ctx context.Context, in io.Reader) (Stats, error) {
	var st Stats
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), MaxLineBytes)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		st.Lines++
		inc(r.counters.LinesRead)

		rec, err := Decode(raw)
		if err != nil {
			st.Malformed++
			inc(r.counters.MalformedLines)
			r.log.Warn("skip malformed line", zap.Int("line", st.Lines), zap.Error(err))
			continue
		}

		err = r.dst.Enqueue(ctx, rec)
		switch {
		case err == nil:
			st.Enqueued++
		case errors.Is(err, batcher.ErrClosed):
			return st, err
		case errors.Is(err, batcher.ErrMalformedRecord):
			st.Malformed++
			inc(r.counters.MalformedLines)
			r.log.Warn("record rejected", zap.Int("line", st.Lines), zap.Error(err))
		default:
			// запись принята, но пачка с ней (или перед ней) не ушла
			st.Enqueued++
			st.Failed++
			inc(r.counters.EnqueueErrors)
			r.log.Debug("enqueue triggered failed flush", zap.Int("line", st.Lines), zap.Error(err))
		}
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("ingest: read input: %w", err)
	}
	r.log.Info("input exhausted",
		zap.Int("lines", st.Lines),
		zap.Int("enqueued", st.Enqueued),
		zap.Int("malformed", st.Malformed),
	)
	return st, nil
}

// Decode разбирает одну NDJSON-строку в kafka.Record.
func Decode(raw []byte) (kafka.Record, error) {
	var l line
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&l); err != nil {
		return kafka.Record{}, fmt.Errorf("ingest: decode: %w", err)
	}
	rec := kafka.Record{Topic: l.Topic, Messages: make([]kafka.Message, 0, len(l.Messages))}
	if l.Key != nil {
		rec.Key = []byte(*l.Key)
	}
	for i, m := range l.Messages {
		if len(m.Value) == 0 {
			return kafka.Record{}, fmt.Errorf("ingest: message %d has no value", i)
		}
		msg := kafka.Message{Value: messageValue(m.Value)}
		if m.Key != nil {
			msg.Key = []byte(*m.Key)
		}
		rec.Messages = append(rec.Messages, msg)
	}
	return rec, nil
}

// messageValue: JSON-строка разворачивается, остальное уходит как есть.
func messageValue(v json.RawMessage) []byte {
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return []byte(s)
		}
	}
	return []byte(v)
}

func inc(c interface{ Inc() }) {
	if c != nil {
		c.Inc()
	}
}
