package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(Message{
		UserID:      "user-1",
		EventType:   EventContractChanged,
		ContractIDs: []string{"contract-a"},
		Status:      "assinado",
	})

	select {
	case received := <-stream:
		if received.EventType != EventContractChanged {
			t.Fatalf("expected event type %s, got %s", EventContractChanged, received.EventType)
		}
		if len(received.ContractIDs) != 1 || received.ContractIDs[0] != "contract-a" {
			t.Fatalf("unexpected contract ids %v", received.ContractIDs)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be stamped on publish")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	dispatcher.Publish(Message{UserID: "user-3", EventType: EventPlanActivated, Plan: "basic"})

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.Plan != "basic" {
			t.Fatalf("expected basic plan, received %s", msg.Plan)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestDispatcherUnregistersOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "user-4")
	defer cleanup()
	if dispatcher.SubscriberCount("user-4") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("user-4") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not released after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatcherIgnoresIncompleteMessages(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-5")
	defer cleanup()

	dispatcher.Publish(Message{UserID: "user-5"})
	dispatcher.Publish(Message{EventType: EventPlanActivated})

	select {
	case msg := <-stream:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
