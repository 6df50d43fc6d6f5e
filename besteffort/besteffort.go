// Package besteffort marks writes whose failure must never fail the caller:
// checkpoint saves, status mirrors, secondary-store copies. Errors are logged
// and dropped here so call sites cannot accidentally depend on them.
package besteffort

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single best-effort call.
const DefaultTimeout = 5 * time.Second

type Runner struct {
	logger  *zap.Logger
	timeout time.Duration
}

func New(logger *zap.Logger) *Runner {
	return &Runner{logger: logger, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of the runner using d as the per-call bound.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	cp := *r
	cp.timeout = d
	return &cp
}

// Do runs fn and reports whether it succeeded. A failure is logged with the
// operation name and the extra fields, then discarded.
func (r *Runner) Do(ctx context.Context, op string, fn func(ctx context.Context) error, fields ...zap.Field) bool {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		r.logger.Warn("Best-effort operation failed",
			append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...,
		)
		return false
	}
	return true
}
