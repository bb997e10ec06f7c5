package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "event-producer" {
		t.Errorf("service_name = %q", cfg.ServiceName)
	}
	b := cfg.Batcher
	if b.MaxBatchBytes != 900*1024 || b.MaxBatchCount != 1000 || b.FlushInterval != 500*time.Millisecond {
		t.Errorf("batcher = %+v", b)
	}
	if b.SlowFlushThreshold != 30*time.Second || b.Compression != "snappy" {
		t.Errorf("batcher = %+v", b)
	}
	if cfg.Kafka.Backoff.InitialInterval != 500*time.Millisecond || cfg.Kafka.Backoff.Multiplier != 2 {
		t.Errorf("kafka.backoff = %+v", cfg.Kafka.Backoff)
	}
	if cfg.Kafka.Retry {
		t.Error("retry must be off by default")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EVENT_PRODUCER_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("EVENT_PRODUCER_BATCHER_MAX_BATCH_COUNT", "50")
	t.Setenv("EVENT_PRODUCER_BATCHER_FLUSH_INTERVAL", "2s")
	t.Setenv("EVENT_PRODUCER_KAFKA_RETRY", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.Kafka.Brokers, ",") != "k1:9092,k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Batcher.MaxBatchCount != 50 || cfg.Batcher.FlushInterval != 2*time.Second {
		t.Errorf("batcher = %+v", cfg.Batcher)
	}
	if !cfg.Kafka.Retry {
		t.Error("retry not enabled from env")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
kafka:
  brokers: ["broker:29092"]
  acks: leader
batcher:
  max_batch_bytes: 1000
  compression: zstd
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kafka.Acks != "leader" || cfg.Batcher.MaxBatchBytes != 1000 || cfg.Batcher.Compression != "zstd" {
		t.Errorf("cfg = %+v", cfg)
	}
	// не заданное в файле берётся из defaults
	if cfg.Batcher.MaxBatchCount != 1000 {
		t.Errorf("max_batch_count = %d", cfg.Batcher.MaxBatchCount)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"bad acks", func(c *Config) { c.Kafka.Acks = "some" }},
		{"zero bytes", func(c *Config) { c.Batcher.MaxBatchBytes = 0 }},
		{"zero count", func(c *Config) { c.Batcher.MaxBatchCount = 0 }},
		{"zero interval", func(c *Config) { c.Batcher.FlushInterval = 0 }},
		{"bad codec", func(c *Config) { c.Batcher.Compression = "brotli" }},
		{"batch over broker limit", func(c *Config) { c.Kafka.MaxMessageBytes = 1024 }},
		{"bad sampler", func(c *Config) { c.Telemetry.SamplerRatio = 2 }},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			c.Kafka.Brokers = append([]string(nil), base.Kafka.Brokers...)
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := base.Validate(); err != nil {
		t.Errorf("defaults must be valid: %v", err)
	}
}
