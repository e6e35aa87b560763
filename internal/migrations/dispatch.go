package migrations

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Executor runs a migration by id.
type Executor interface {
	Execute(ctx context.Context, migrationID string) (Migration, error)
}

// InlineDispatcher executes migrations on a background goroutine inside the API process.
type InlineDispatcher struct {
	executor Executor
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewInlineDispatcher constructs an InlineDispatcher around executor.
func NewInlineDispatcher(executor Executor, logger *zap.Logger) *InlineDispatcher {
	if logger == nil {
		logger = noOpLogger
	}
	return &InlineDispatcher{executor: executor, logger: logger}
}

// Dispatch starts the migration without waiting for it. The run outlives the request context.
func (d *InlineDispatcher) Dispatch(ctx context.Context, migrationID string) error {
	if d == nil || d.executor == nil {
		return errors.New("inline dispatcher has no executor")
	}
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.executor.Execute(runCtx, migrationID); err != nil {
			d.logger.Warn("inline migration finished with error",
				zap.String("migration_id", migrationID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched migration has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
