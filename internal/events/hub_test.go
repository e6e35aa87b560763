package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHubPublishesToSubscriber(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := hub.Subscribe(ctx, "user-1")
	defer cleanup()

	if err := hub.Publish(ctx, Event{
		Type:        TypeMigrationProgress,
		UserID:      "user-1",
		MigrationID: "migration-1",
		Progress:    40,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case received := <-stream:
		if received.Type != TypeMigrationProgress || received.Progress != 40 {
			t.Fatalf("unexpected event %+v", received)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestHubIsolatesUsers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := hub.Subscribe(ctx, "user-2")
	defer cleanup()
	otherStream, otherCleanup := hub.Subscribe(ctx, "user-3")
	defer otherCleanup()

	_ = hub.Publish(ctx, Event{Type: TypeMigrationCompleted, UserID: "user-3", MigrationID: "m"})

	select {
	case <-userStream:
		t.Fatal("did not expect event for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}
	select {
	case event := <-otherStream:
		if !event.Terminal() {
			t.Fatalf("expected terminal event, got %s", event.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed user")
	}
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, Event) error { return p.err }

func TestFanoutJoinsErrors(t *testing.T) {
	sentinel := errors.New("broker down")
	hub := NewHub()
	fanout := Fanout{hub, nil, failingPublisher{err: sentinel}, NopPublisher{}}
	if err := fanout.Publish(context.Background(), Event{Type: TypeMigrationStarted, UserID: "u"}); !errors.Is(err, sentinel) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := (Fanout{NopPublisher{}}).Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(" ", "exchange"); !errors.Is(err, errMissingAMQPURL) {
		t.Fatalf("expected errMissingAMQPURL, got %v", err)
	}
}
