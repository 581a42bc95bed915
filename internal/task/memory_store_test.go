package task

import (
	"context"
	"testing"
	"time"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/rebalancer"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	if err := store.Create(ctx, &Run{ID: "r1", Network: "goerli", Mode: "simulate"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Run{ID: "r1"}); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	run, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if run.Status != StatusRunning {
		t.Fatalf("expected running, got %s", run.Status)
	}
	if _, err := store.Claim(ctx, "r1"); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("second claim should conflict, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "r1", &rebalancer.Result{RunID: "inner", Operations: 5}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !xerrors.HasCode(err, CodeRunCompleted) {
		t.Fatalf("claim after completion should report completed, got %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result == nil || got.Result.Operations != 5 {
		t.Fatalf("unexpected result %+v", got.Result)
	}
	got.Result.Operations = 99
	again, _ := store.Get(ctx, "r1")
	if again.Result.Operations != 5 {
		t.Fatal("store must hand out copies")
	}

	if _, err := store.Get(ctx, "missing"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListAndEviction(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"a", "b"} {
		if err := store.Create(ctx, &Run{ID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.MarkFailed(ctx, "a", xerrors.CodeCollaboratorFailure, "boom", nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.Create(ctx, &Run{ID: "c"}); err != nil {
		t.Fatalf("create c: %v", err)
	}

	runs, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected eviction down to 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected order %s, %s", runs[0].ID, runs[1].ID)
	}

	limited, _ := store.List(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
