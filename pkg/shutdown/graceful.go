package shutdown

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// WithSignals returns a context cancelled on SIGINT or SIGTERM.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// Hook stops one component; it should return once ctx is done at the latest.
type Hook struct {
	Name string
	Stop func(ctx context.Context) error
}

// Drain runs hooks in order under one shared deadline and logs every failure.
func Drain(log *zap.Logger, timeout time.Duration, hooks ...Hook) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, h := range hooks {
		if err := h.Stop(ctx); err != nil {
			log.Error("shutdown step failed", zap.String("component", h.Name), zap.Error(err))
			continue
		}
		log.Info("component stopped", zap.String("component", h.Name))
	}
}

// Wait adapts wg to a Hook.Stop that gives up when the drain deadline passes.
func Wait(wg *sync.WaitGroup) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
