// Package sweeper releases agents whose post-call wrap-up window has expired.
package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/service/agentstate"
	"github.com/acme/campaign-dialer/pkg/logger"
)

var tracer = otel.Tracer("campaign-dialer/sweeper")

// Sweeper periodically expires elapsed wrap-ups (PostCall -> Available).
type Sweeper struct {
	states   *agentstate.Machine
	interval time.Duration
	log      *logger.Logger
}

// New constructs the sweeper.
func New(states *agentstate.Machine, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{states: states, interval: interval, log: log}
}

// Run ticks until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("wrap-up sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("wrap-up sweeper stopping")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	released, err := s.states.ExpireWrapUps(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("wrap-up sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		s.log.Info("wrap-ups expired", zap.Int("released", released))
	}
}
