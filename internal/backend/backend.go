// Package backend is the boundary to the remote service that applies
// operations. The operation log only needs ExecuteOperations; retries and
// partial-batch handling belong to implementations.
package backend

import (
	"context"

	"github.com/rzbill/oplog/internal/operation"
)

// Backend applies ordered batches of operations for a session.
type Backend interface {
	// ExecuteOperations applies ops in order. Any error means the batch was
	// not consumed and will be offered again.
	ExecuteOperations(ctx context.Context, sessionID string, ops []operation.Operation) error
}

// Func adapts a function to Backend.
type Func func(ctx context.Context, sessionID string, ops []operation.Operation) error

func (f Func) ExecuteOperations(ctx context.Context, sessionID string, ops []operation.Operation) error {
	return f(ctx, sessionID, ops)
}
