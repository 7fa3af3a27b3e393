package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// Go executes fn in a goroutine, logging a returned error or a panic.
// The returned channel is closed when fn has finished.
func Go(logger logrus.FieldLogger, taskName string, fn func() error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer recoverTask(logger, taskName)

		if err := fn(); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
	return done
}

// Every runs fn every interval until ctx is done. A failed or panicking
// run is logged and the next tick runs as usual.
func Every(ctx context.Context, logger logrus.FieldLogger, interval time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	return Go(logger, taskName, func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce(ctx, logger, taskName, fn)
			}
		}
	})
}

func runOnce(ctx context.Context, logger logrus.FieldLogger, taskName string, fn func(context.Context) error) {
	defer recoverTask(logger, taskName)

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Warn("periodic task failed")
	}
}

func recoverTask(logger logrus.FieldLogger, taskName string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"task":  taskName,
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("panic in background task")
	}
}
