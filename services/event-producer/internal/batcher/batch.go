package batcher

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/YaganovValera/event-producer/common/kafka"
)

// pendingBatch — текущее поколение записей. size всегда равен сумме
// оценок размеров records.
type pendingBatch struct {
	records   []kafka.Record
	size      int
	createdAt time.Time
}

func (b *pendingBatch) add(rec kafka.Record, size int, now time.Time) {
	if len(b.records) == 0 {
		b.createdAt = now
	}
	b.records = append(b.records, rec)
	b.size += size
}

// generation — пачка, снятая с producer'а и ожидающая отправки.
// prev закрывается, когда отправлено предыдущее поколение, done закрывается после отправки этого.
type generation struct {
	records []kafka.Record
	size    int
	prev    <-chan struct{}
	done    chan struct{}
}

// estimateView — JSON-представление записи для оценки размера. Значения
// сериализуются строками, а не base64, как их увидит брокер.
type estimateView struct {
	Topic    string            `json:"topic"`
	Key      string            `json:"key,omitempty"`
	Messages []estimateMessage `json:"messages"`
}

type estimateMessage struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// EstimateSize возвращает длину JSON-представления записи в байтах
// (UTF-8, не число символов). <, > и & не экранируются: в отправляемых
// данных это один байт, а не \u003c.
func EstimateSize(rec kafka.Record) (int, error) {
	v := estimateView{
		Topic:    rec.Topic,
		Key:      string(rec.Key),
		Messages: make([]estimateMessage, len(rec.Messages)),
	}
	for i, m := range rec.Messages {
		v.Messages[i] = estimateMessage{Key: string(m.Key), Value: string(m.Value)}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return 0, err
	}
	// Encode дописывает '\n'
	return buf.Len() - 1, nil
}

func validateRecord(rec kafka.Record) error {
	if rec.Topic == "" {
		return malformed("empty topic")
	}
	if len(rec.Messages) == 0 {
		return malformed("record for topic %q has no messages", rec.Topic)
	}
	// Невалидный UTF-8 json заменил бы на U+FFFD, и оценка разошлась бы с данными.
	if !utf8.Valid(rec.Key) {
		return malformed("record for topic %q: key is not valid UTF-8", rec.Topic)
	}
	for i, m := range rec.Messages {
		if !utf8.Valid(m.Key) || !utf8.Valid(m.Value) {
			return malformed("record for topic %q: message %d is not valid UTF-8", rec.Topic, i)
		}
	}
	return nil
}
