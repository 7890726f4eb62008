package repositories

import (
	"context"
)

// UnitOfWork defines the interface for atomic operations
type UnitOfWork interface {
	// Do executes the given function within a transaction scope. A nested Do
	// joins the transaction already present in ctx.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	// WithLock marks ctx so that repository reads take row locks (FOR UPDATE).
	WithLock(ctx context.Context) context.Context
}
