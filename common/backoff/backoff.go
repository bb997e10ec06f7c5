// common/backoff/backoff.go
//
// Пакет backoff — экспоненциальные повторы поверх cenkalti/backoff с
// метриками по операциям (op) и структурированным логом.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/logger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается из common.InitServiceName до первого Execute.
func SetServiceLabel(name string) { serviceLabel = name }

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "backoff", Name: "retries_total",
		Help: "Retry attempts after a failed call",
	}, []string{"service", "op"})
	giveUpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "backoff", Name: "failures_total",
		Help: "Operations abandoned after all retries",
	}, []string{"service", "op"})
	successesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "common", Subsystem: "backoff", Name: "successes_total",
		Help: "Operations that eventually succeeded",
	}, []string{"service", "op"})
	retryDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "common", Subsystem: "backoff", Name: "retry_delay_seconds",
		Help:    "Delay before the next attempt (seconds)",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "op"})
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config — параметры экспоненциального back-off. Нулевые поля → дефолты.
type Config struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`     // первая пауза
	RandomizationFactor float64       `mapstructure:"randomization_factor"` // джиттер, 0..1
	Multiplier          float64       `mapstructure:"multiplier"`           // рост паузы, ≥ 1
	MaxInterval         time.Duration `mapstructure:"max_interval"`         // потолок одной паузы
	// MaxElapsedTime — общий бюджет на все попытки; 0 → до отмены ctx.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`
	// MaxAttempts — предел числа вызовов fn; 0 → без предела.
	MaxAttempts int `mapstructure:"max_attempts"`
	// PerAttemptTimeout — таймаут одного вызова fn; 0 → без таймаута.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	switch {
	case c.RandomizationFactor < 0 || c.RandomizationFactor > 1:
		return fmt.Errorf("backoff: RandomizationFactor must be in [0,1], got %v", c.RandomizationFactor)
	case c.Multiplier < 1:
		return fmt.Errorf("backoff: Multiplier must be ≥ 1, got %v", c.Multiplier)
	case c.MaxAttempts < 0:
		return fmt.Errorf("backoff: MaxAttempts must be ≥ 0, got %d", c.MaxAttempts)
	}
	return nil
}

func (c Config) strategy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.RandomizationFactor = c.RandomizationFactor
	exp.Multiplier = c.Multiplier
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = c.MaxElapsedTime

	var b backoff.BackOff = exp
	if c.MaxAttempts > 0 {
		// WithMaxRetries считает повторы, а не вызовы
		b = backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// RetryableFunc — единица работы, которую можно повторять.
type RetryableFunc func(ctx context.Context) error

// ErrMaxRetries — fn так и не завершилась успешно.
type ErrMaxRetries struct {
	Err      error // последняя ошибка fn
	Attempts int   // сколько раз вызвана fn
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}

func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent помечает ошибку как non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// IsPermanent сообщает, помечена ли ошибка как non-retryable.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// -----------------------------------------------------------------------------
// Execute
// -----------------------------------------------------------------------------

// Execute вызывает fn, пока она не вернёт nil, permanent-ошибку или пока
// не кончится бюджет cfg. op — метка операции в метриках и логах.
func Execute(ctx context.Context, op string, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	attempts := 0
	call := func() error {
		attempts++
		if cfg.PerAttemptTimeout <= 0 {
			return fn(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
		defer cancel()
		return fn(attemptCtx)
	}
	onRetry := func(err error, delay time.Duration) {
		retriesTotal.WithLabelValues(serviceLabel, op).Inc()
		retryDelay.WithLabelValues(serviceLabel, op).Observe(delay.Seconds())
		log.Warn("back-off retry",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(call, cfg.strategy(ctx), onRetry)
	if err == nil {
		successesTotal.WithLabelValues(serviceLabel, op).Inc()
		return nil
	}

	giveUpsTotal.WithLabelValues(serviceLabel, op).Inc()
	log.Error("back-off give-up",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &ErrMaxRetries{Err: err, Attempts: attempts}
}
