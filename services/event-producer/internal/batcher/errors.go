package batcher

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord — запись отклонена до попадания в пачку.
	ErrMalformedRecord = errors.New("batcher: malformed record")
	// ErrClosed — Enqueue или FlushWith после Disconnect.
	ErrClosed = errors.New("batcher: producer is disconnected")
)

// SendError — брокер не принял пачку. Пачка обратно не ставится,
// решение о повторе за вызывающим.
type SendError struct {
	Records       int
	Topics        []string
	EstimatedSize int
	Err           error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("batcher: send batch of %d record(s), ~%d bytes, topics %v: %v",
		e.Records, e.EstimatedSize, e.Topics, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}
