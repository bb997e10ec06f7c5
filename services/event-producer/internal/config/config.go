// services/event-producer/internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/YaganovValera/event-producer/common/backoff"
	"github.com/YaganovValera/event-producer/common/configloader"
	"github.com/YaganovValera/event-producer/common/kafka"
)

// EnvPrefix — префикс переменных окружения: EVENT_PRODUCER_KAFKA_BROKERS и т.п.
const EnvPrefix = "EVENT_PRODUCER"

/*
   --------------------------------------------------------------------------
   СТРУКТУРЫ
   --------------------------------------------------------------------------
*/

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Kafka          KafkaConfig   `mapstructure:"kafka"`
	Batcher        BatcherConfig `mapstructure:"batcher"`
	Ingest         IngestConfig  `mapstructure:"ingest"`
	Telemetry      Telemetry     `mapstructure:"telemetry"`
	Logging        Logging       `mapstructure:"logging"`
	HTTP           HTTPConfig    `mapstructure:"http"`
}

// KafkaConfig — подключение к брокеру.
type KafkaConfig struct {
	Brokers         []string       `mapstructure:"brokers"`
	Version         string         `mapstructure:"version"`
	Acks            string         `mapstructure:"acks"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	MaxMessageBytes int            `mapstructure:"max_message_bytes"`
	DebugLog        bool           `mapstructure:"debug_log"`
	Backoff         backoff.Config `mapstructure:"backoff"`
	// Retry включает повтор отправки пачки (RetryingSender).
	Retry        bool           `mapstructure:"retry"`
	RetryBackoff backoff.Config `mapstructure:"retry_backoff"`
}

// BatcherConfig — лимиты пачки.
type BatcherConfig struct {
	MaxBatchBytes      int           `mapstructure:"max_batch_bytes"`
	MaxBatchCount      int           `mapstructure:"max_batch_count"`
	FlushInterval      time.Duration `mapstructure:"flush_interval"`
	SlowFlushThreshold time.Duration `mapstructure:"slow_flush_threshold"`
	Compression        string        `mapstructure:"compression"`
	DisconnectTimeout  time.Duration `mapstructure:"disconnect_timeout"`
}

// IngestConfig — источник NDJSON. "-" или "" → stdin.
type IngestConfig struct {
	Path string `mapstructure:"path"`
}

// Telemetry хранит настройки OpenTelemetry. Пустой endpoint выключает экспорт.
type Telemetry struct {
	OTLPEndpoint string  `mapstructure:"otel_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

// Logging хранит настройки логгера.
type Logging struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// HTTPConfig — служебный HTTP-сервер (/metrics, /healthz, /readyz).
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

func backoffDefaults(prefix string, initial, maxInterval, maxElapsed string, maxAttempts int) map[string]interface{} {
	return map[string]interface{}{
		prefix + ".initial_interval":     initial,
		prefix + ".randomization_factor": 0.5,
		prefix + ".multiplier":           2.0,
		prefix + ".max_interval":         maxInterval,
		prefix + ".max_elapsed_time":     maxElapsed,
		prefix + ".max_attempts":         maxAttempts,
		prefix + ".per_attempt_timeout":  "0s",
	}
}

// Defaults — значения по умолчанию; каждый ключ конфига обязан здесь быть,
// иначе ENV для него не подхватится.
func Defaults() map[string]interface{} {
	d := map[string]interface{}{
		"service_name":    "event-producer",
		"service_version": "v1.0.0",

		"kafka.brokers":           []string{"localhost:9092"},
		"kafka.version":           "",
		"kafka.acks":              "all",
		"kafka.timeout":           "15s",
		"kafka.max_message_bytes": 0,
		"kafka.retry":             false,
		"kafka.debug_log":         false,

		"batcher.max_batch_bytes":      900 * 1024,
		"batcher.max_batch_count":      1000,
		"batcher.flush_interval":       "500ms",
		"batcher.slow_flush_threshold": "30s",
		"batcher.compression":          "snappy",
		"batcher.disconnect_timeout":   "30s",

		"ingest.path": "-",

		"telemetry.otel_endpoint": "",
		"telemetry.insecure":      false,
		"telemetry.sampler_ratio": 1.0,

		"logging.level":    "info",
		"logging.dev_mode": false,

		"http.port":             8080,
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "5s",
		"http.metrics_path":     "/metrics",
		"http.healthz_path":     "/healthz",
		"http.readyz_path":      "/readyz",
		"http.ready_timeout":    "2s",
	}
	for k, v := range backoffDefaults("kafka.backoff", "500ms", "10s", "1m", 0) {
		d[k] = v
	}
	for k, v := range backoffDefaults("kafka.retry_backoff", "100ms", "2s", "10s", 5) {
		d[k] = v
	}
	return d
}

// Load загружает и валидирует конфиг. Если path пустой, читаются только ENV и defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, Defaults(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

// Validate проверяет обязательные поля и допустимые значения.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	switch c.Kafka.Acks {
	case "all", "leader", "none":
	default:
		return fmt.Errorf("kafka.acks must be one of all|leader|none, got %q", c.Kafka.Acks)
	}
	if c.Kafka.Timeout <= 0 {
		return fmt.Errorf("kafka.timeout must be > 0")
	}
	if c.Batcher.MaxBatchBytes <= 0 {
		return fmt.Errorf("batcher.max_batch_bytes must be > 0")
	}
	if c.Batcher.MaxBatchCount <= 0 {
		return fmt.Errorf("batcher.max_batch_count must be > 0")
	}
	if c.Batcher.FlushInterval <= 0 {
		return fmt.Errorf("batcher.flush_interval must be > 0")
	}
	if c.Batcher.SlowFlushThreshold <= 0 {
		return fmt.Errorf("batcher.slow_flush_threshold must be > 0")
	}
	if c.Batcher.DisconnectTimeout <= 0 {
		return fmt.Errorf("batcher.disconnect_timeout must be > 0")
	}
	if _, err := kafka.ParseCompression(c.Batcher.Compression); err != nil {
		return fmt.Errorf("batcher.compression: %w", err)
	}
	if c.Kafka.MaxMessageBytes > 0 && c.Batcher.MaxBatchBytes > c.Kafka.MaxMessageBytes {
		return fmt.Errorf("batcher.max_batch_bytes (%d) exceeds kafka.max_message_bytes (%d)",
			c.Batcher.MaxBatchBytes, c.Kafka.MaxMessageBytes)
	}
	if c.Telemetry.SamplerRatio < 0 || c.Telemetry.SamplerRatio > 1 {
		return fmt.Errorf("telemetry.sampler_ratio must be between 0 and 1")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1..65535, got %d", c.HTTP.Port)
	}
	return nil
}
