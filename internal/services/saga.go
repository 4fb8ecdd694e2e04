package services

import (
	"context"
	"errors"
	"fmt"

	"campus-ticket/monitoring"

	"go.uber.org/zap"
)

// saga records an inverse action for every completed step of a multi-write
// operation so a failure can be unwound in reverse order.
type saga struct {
	name   string
	steps  []compensation
	logger *zap.Logger
}

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

func newSaga(name string, logger *zap.Logger) *saga {
	return &saga{name: name, logger: logger}
}

func (s *saga) push(step string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{step: step, undo: undo})
}

// unwind runs every compensation, newest first. It keeps going after a
// failed compensation and returns all of their errors joined.
func (s *saga) unwind(ctx context.Context) error {
	// The caller's context may already be cancelled; cleanup must still run.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		c := s.steps[i]
		if err := c.undo(ctx); err != nil {
			s.logger.Error("compensation failed",
				zap.String("saga", s.name),
				zap.String("step", c.step),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("undo %s: %w", c.step, err))
		}
	}
	s.steps = nil

	if len(errs) > 0 {
		monitoring.TrackRollback("partial")
		return errors.Join(errs...)
	}
	monitoring.TrackRollback("ok")
	return nil
}
