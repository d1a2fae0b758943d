package server

import (
	"context"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"boardsync/domain"
)

func TestPubSubBridgesBetweenInstances(t *testing.T) {
	rc := newTestRedis(t)

	hubB := NewHub(nil, nil, nil)

	psA := NewPubSub(rc, "bridge-test", nil, nil)
	psB := NewPubSub(rc, "bridge-test", nil, nil)

	// A client on instance B, in the room the event targets.
	srvB := newHubServer(t, hubB)
	carol := dialHub(t, srvB, "carol")
	carol.send(domain.EventBoardJoin, domain.BoardJoinPayload{BoardID: "b1", UserName: "Carol"})

	waitForPresence(t, hubB, "b1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go psB.Subscribe(ctx, hubB)

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	env, err := domain.NewEnvelope(domain.EventTaskCreated, domain.Task{ID: "t1", Title: "bridged", BoardID: "b1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := psA.Publish(ctx, "b1", env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := carol.read()
	if got.Type != domain.EventTaskCreated {
		t.Fatalf("expected %q, got %q", domain.EventTaskCreated, got.Type)
	}
	task := decodePayload[domain.Task](t, got)
	if task.ID != "t1" || task.Title != "bridged" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestPubSubSkipsOwnMessages(t *testing.T) {
	rc := newTestRedis(t)

	hub := NewHub(nil, nil, nil)
	ps := NewPubSub(rc, "bridge-test", nil, nil)

	srv := newHubServer(t, hub)
	carol := dialHub(t, srv, "carol")
	carol.send(domain.EventBoardJoin, domain.BoardJoinPayload{BoardID: "b1", UserName: "Carol"})
	waitForPresence(t, hub, "b1", 1)

	env, err := domain.NewEnvelope(domain.EventTaskCreated, domain.Task{ID: "t1", BoardID: "b1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := bridgeMessage{ID: "m1", Instance: ps.instanceID, BoardID: "b1", Envelope: env}
	data, err := sonic.Marshal(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ps.apply(context.Background(), hub, string(data))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := carol.conn.Read(ctx); err == nil {
		t.Fatal("own-instance messages must not be re-applied")
	}
}

func TestPubSubAppliesRemoteMessageOnce(t *testing.T) {
	rc := newTestRedis(t)

	hub := NewHub(nil, nil, nil)
	dedup := NewDeduper(rc, "bridge:", time.Minute)
	ps := NewPubSub(rc, "bridge-test", dedup, nil)

	srv := newHubServer(t, hub)
	carol := dialHub(t, srv, "carol")
	carol.send(domain.EventBoardJoin, domain.BoardJoinPayload{BoardID: "b1", UserName: "Carol"})
	waitForPresence(t, hub, "b1", 1)

	env, err := domain.NewEnvelope(domain.EventTaskCreated, domain.Task{ID: "t1", BoardID: "b1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := bridgeMessage{ID: "m1", Instance: "peer-instance", BoardID: "b1", Envelope: env}
	data, err := sonic.Marshal(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Redelivered twice; only one copy may reach the client.
	ps.apply(context.Background(), hub, string(data))
	ps.apply(context.Background(), hub, string(data))

	got := carol.read()
	if got.Type != domain.EventTaskCreated {
		t.Fatalf("expected %q, got %q", domain.EventTaskCreated, got.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := carol.conn.Read(ctx); err == nil {
		t.Fatal("duplicate bridge message must be dropped")
	}
}

func waitForPresence(t *testing.T, hub *Hub, boardID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, presence := hub.Snapshot(boardID); len(presence) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d presence entries on %s", n, boardID)
}

func TestPubSubDropsMalformedMessages(t *testing.T) {
	rc := newTestRedis(t)
	hub := NewHub(nil, nil, nil)
	ps := NewPubSub(rc, "bridge-test", nil, nil)

	// Must not panic or touch the hub.
	ps.apply(context.Background(), hub, "{not json")
}
