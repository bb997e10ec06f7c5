package batcher

import (
	"fmt"
	"time"

	"github.com/YaganovValera/event-producer/common/kafka"
)

// Дефолты. MaxBatchBytes держим чуть ниже message.max.bytes брокера (1 MB).
const (
	DefaultMaxBatchBytes      = 900 * 1024
	DefaultMaxBatchCount      = 1000
	DefaultFlushInterval      = 500 * time.Millisecond
	DefaultSlowFlushThreshold = 30 * time.Second
	DefaultCompression        = kafka.CompressionSnappy
)

// Config — лимиты пачки. После New не меняется.
type Config struct {
	// MaxBatchBytes — порог оценочного размера пачки (байты), после которого она уходит.
	MaxBatchBytes int
	// MaxBatchCount — порог числа записей в пачке.
	MaxBatchCount int
	// FlushInterval — максимальный возраст неотправленной пачки и период таймера.
	FlushInterval time.Duration
	// SlowFlushThreshold — после скольких секунд отправки писать предупреждение.
	// Отправку не прерывает.
	SlowFlushThreshold time.Duration
	// Compression — кодек, с которым уходит каждая пачка.
	Compression kafka.Compression
}

func (c *Config) applyDefaults() {
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.MaxBatchCount == 0 {
		c.MaxBatchCount = DefaultMaxBatchCount
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SlowFlushThreshold == 0 {
		c.SlowFlushThreshold = DefaultSlowFlushThreshold
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxBatchBytes < 0:
		return fmt.Errorf("batcher: MaxBatchBytes must be >= 0 (0 means default), got %d", c.MaxBatchBytes)
	case c.MaxBatchCount < 0:
		return fmt.Errorf("batcher: MaxBatchCount must be >= 0 (0 means default), got %d", c.MaxBatchCount)
	case c.FlushInterval < 0:
		return fmt.Errorf("batcher: FlushInterval must be >= 0 (0 means default), got %v", c.FlushInterval)
	case c.SlowFlushThreshold < 0:
		return fmt.Errorf("batcher: SlowFlushThreshold must be >= 0 (0 means default), got %v", c.SlowFlushThreshold)
	}
	if _, err := kafka.ParseCompression(string(c.Compression)); err != nil {
		return fmt.Errorf("batcher: %w", err)
	}
	return nil
}
