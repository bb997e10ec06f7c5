package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/logger"
)

// GracefulShutdown выполняет shutdown-функцию с таймаутом и логирует итог.
// Контекст не наследуется от родительского: к моменту остановки тот обычно
// уже отменён.
func GracefulShutdown(name string, timeout time.Duration, fn func(ctx context.Context) error, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutdown: stopping " + name)
	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Error("shutdown: error in "+name, zap.Error(err), zap.Duration("took", time.Since(start)))
		return err
	}
	log.Info("shutdown: "+name+" stopped cleanly", zap.Duration("took", time.Since(start)))
	return nil
}
