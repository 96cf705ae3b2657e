// Package sweeper cancels orders that stayed unpaid past the payment timeout.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer is satisfied by *ordering.Service.
type Expirer interface {
	ExpireUnpaidOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type Recorder interface {
	AddExpired(n int)
}

type Config struct {
	PaymentTimeout time.Duration
	Interval       time.Duration
	BatchSize      int
}

type Sweeper struct {
	orders   Expirer
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
}

func New(orders Expirer, recorder Recorder, cfg Config, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{orders: orders, recorder: recorder, cfg: cfg, logger: logger}
}

// Run sweeps once per interval until ctx is cancelled. A batch that comes
// back full is followed immediately by another one.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.PaymentTimeout <= 0 || s.cfg.Interval <= 0 {
		s.logger.Info("payment timeout sweeper disabled")
		return
	}

	s.logger.Info("payment timeout sweeper started",
		zap.Duration("payment_timeout", s.cfg.PaymentTimeout),
		zap.Duration("interval", s.cfg.Interval),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("payment timeout sweeper stopped")
			return
		case <-ticker.C:
			for s.SweepOnce(ctx) {
			}
		}
	}
}

// SweepOnce expires one batch and reports whether the batch was full. Orders
// that failed to expire do not stop a full batch from draining.
func (s *Sweeper) SweepOnce(ctx context.Context) bool {
	n, err := s.orders.ExpireUnpaidOrders(ctx, s.cfg.PaymentTimeout, s.cfg.BatchSize)
	if n > 0 {
		if s.recorder != nil {
			s.recorder.AddExpired(n)
		}
		s.logger.Info("expired unpaid orders", zap.Int("count", n))
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Error("expire unpaid orders", zap.Error(err))
	}
	return s.cfg.BatchSize > 0 && n >= s.cfg.BatchSize && ctx.Err() == nil
}
