package ports

import (
	"context"
	"time"

	"meshpad/internal/core/domain"
)

// Executor runs a snippet in some out-of-process backend. The sync core
// only broadcasts start and result events; it never owns the execution
// mechanism.
type Executor interface {
	Execute(ctx context.Context, language, code string, timeout time.Duration) (*domain.ExecutionResult, error)
}

// Diagnostics exposes read-only snapshots for display and debugging.
// Owned by the session orchestrator.
type Diagnostics interface {
	Snapshot() domain.DiagnosticsSnapshot
}
