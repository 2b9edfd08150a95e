package queue

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/carebridge/shiftcover/internal/rediscache"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("failed to split miniredis address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse miniredis port: %v", err)
	}

	if err := rediscache.Initialize(rediscache.Config{Host: host, Port: port}, "test"); err != nil {
		t.Fatalf("failed to initialize rediscache: %v", err)
	}
	return mr
}

type stubPayload struct {
	Value string `json:"value"`
}

func TestEnqueueIsIdempotentOnExistingID(t *testing.T) {
	newTestRedis(t)
	ctx := context.Background()

	if err := Enqueue(ctx, "job-1", "shift:1:wave", "wave", stubPayload{Value: "first"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Enqueue(ctx, "job-1", "shift:1:wave", "wave", stubPayload{Value: "second"}, 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members, err := rawClient().ZRange(ctx, fullSetKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected exactly one pending job, got %d", len(members))
	}
}

func TestEnqueueDistinctIDsBothScheduled(t *testing.T) {
	newTestRedis(t)
	ctx := context.Background()

	if err := Enqueue(ctx, "job-1", "shift:1:wave", "wave", stubPayload{Value: "wave-2"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Enqueue(ctx, "job-2", "shift:1:wave", "wave", stubPayload{Value: "wave-3"}, 2*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members, err := rawClient().ZRange(ctx, fullSetKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two distinct pending jobs, got %d", len(members))
	}
}

func TestCancelRemovesByKeyPrefix(t *testing.T) {
	newTestRedis(t)
	ctx := context.Background()

	if err := Enqueue(ctx, "job-1", "shift:1:wave", "wave", stubPayload{Value: "a"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Enqueue(ctx, "job-2", "shift:1:wave", "wave", stubPayload{Value: "b"}, 2*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Enqueue(ctx, "job-3", "shift:1:outbound", "outbound", stubPayload{Value: "c"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := Cancel(ctx, "shift:1:wave")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cancelled jobs, got %d", n)
	}

	members, err := rawClient().ZRange(ctx, fullSetKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 remaining job after cancel, got %d", len(members))
	}
}

func TestEnqueueAfterCancelReschedules(t *testing.T) {
	newTestRedis(t)
	ctx := context.Background()

	if err := Enqueue(ctx, "job-1", "shift:1:wave", "wave", stubPayload{Value: "a"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Cancel(ctx, "shift:1:wave"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Enqueue(ctx, "job-1", "shift:1:wave", "wave", stubPayload{Value: "a-again"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members, err := rawClient().ZRange(ctx, fullSetKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected the job to be re-schedulable once its id is no longer pending, got %d", len(members))
	}
}
