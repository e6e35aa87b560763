// Package events carries migration lifecycle notifications to AMQP consumers and live subscribers.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types emitted during a migration's lifecycle.
const (
	TypeMigrationCreated   = "migration.created"
	TypeMigrationStarted   = "migration.started"
	TypeMigrationProgress  = "migration.progress"
	TypeMigrationCompleted = "migration.completed"
	TypeMigrationFailed    = "migration.failed"
	TypeMigrationCancelled = "migration.cancelled"
)

// Event is one lifecycle notification for a user's migration.
type Event struct {
	Type        string         `json:"type"`
	UserID      string         `json:"user_id"`
	MigrationID string         `json:"migration_id"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Terminal reports whether no further events follow for the migration.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeMigrationCompleted, TypeMigrationFailed, TypeMigrationCancelled:
		return true
	default:
		return false
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// Fanout publishes to each sink and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
