package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/observability/alerting"
	"Treasury-Rebalancer/internal/rebalancer"
	"Treasury-Rebalancer/pkg/logger"
)

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	service *Service
	alerts  *recordingAlerter
	locker  *MemoryLocker
	cancel  context.CancelFunc
}

func startHarness(t *testing.T, exec Executor, workers int) *harness {
	t.Helper()
	networks, err := config.LoadNetworks("")
	if err != nil {
		t.Fatalf("load networks: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore(0)
	queue := NewMemoryQueue(256)
	alerts := &recordingAlerter{}
	locker := NewMemoryLocker()

	processor := NewProcessor(exec, store, queue,
		WithWorkerCount(workers),
		WithLocker(locker, time.Minute),
		WithAlertDispatcher(alerts),
		WithProcessorLogger(logger.Discard()),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{service: NewService(store, queue, networks), alerts: alerts, locker: locker, cancel: cancel}
}

func (h *harness) wait(t *testing.T, id string) *Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := h.service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for %s: %v", id, err)
	}
	return run
}

func TestProcessorRecordsSuccess(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(_ context.Context, network string, mode config.Mode) (*rebalancer.Result, error) {
		calls.Add(1)
		return &rebalancer.Result{Network: network, Mode: mode, State: rebalancer.StateDone, Operations: 8}, nil
	})
	h := startHarness(t, exec, 2)

	run, err := h.service.Submit(context.Background(), Request{Network: "Goerli", Mode: "simulate"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.Network != "goerli" || run.Source != SourceAPI {
		t.Fatalf("unexpected run %+v", run)
	}
	done := h.wait(t, run.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("expected success, got %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil || done.Result.Operations != 8 {
		t.Fatalf("unexpected result %+v", done.Result)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one execution, got %d", calls.Load())
	}
	if h.alerts.count() != 0 {
		t.Fatal("success must not alert")
	}
}

func TestProcessorAlertsOnFailureWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, string, config.Mode) (*rebalancer.Result, error) {
		calls.Add(1)
		return &rebalancer.Result{State: rebalancer.StateAborted}, xerrors.New(xerrors.CodeCollaboratorFailure, "cow api down")
	})
	h := startHarness(t, exec, 1)

	run, err := h.service.Submit(context.Background(), Request{Network: "goerli", Mode: "relay", Source: SourceCron})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := h.wait(t, run.ID)
	if done.Status != StatusFailed || done.ErrorCode != string(xerrors.CodeCollaboratorFailure) {
		t.Fatalf("unexpected run %+v", done)
	}
	if done.Result == nil || done.Result.State != rebalancer.StateAborted {
		t.Fatalf("aborted result should be kept, got %+v", done.Result)
	}
	if h.alerts.count() != 1 {
		t.Fatalf("expected one alert, got %d", h.alerts.count())
	}
	event := h.alerts.events[0]
	if event.RunID != run.ID || event.Network != "goerli" || event.Mode != "relay" || event.Metadata["source"] != SourceCron {
		t.Fatalf("unexpected alert %+v", event)
	}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("failed runs must not be retried, got %d calls", calls.Load())
	}
}

func TestProcessorRejectsConcurrentRunOnSameNetwork(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, string, config.Mode) (*rebalancer.Result, error) {
		t.Error("executor must not run while the network is locked")
		return nil, nil
	})
	h := startHarness(t, exec, 1)

	release, err := h.locker.Acquire(context.Background(), LockPrefix+"goerli", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release(context.Background())

	run, err := h.service.Submit(context.Background(), Request{Network: "goerli", Mode: "simulate"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := h.wait(t, run.ID)
	if done.ErrorCode != string(xerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %+v", done)
	}
	if h.alerts.count() != 0 {
		t.Fatal("lock conflicts are not alerted")
	}
}

func TestServiceValidatesRequests(t *testing.T) {
	h := startHarness(t, ExecutorFunc(func(context.Context, string, config.Mode) (*rebalancer.Result, error) {
		return &rebalancer.Result{}, nil
	}), 1)
	ctx := context.Background()

	if _, err := h.service.Submit(ctx, Request{Network: "polygon", Mode: "simulate"}); !xerrors.HasCode(err, xerrors.CodeUnsupportedNetwork) {
		t.Fatalf("expected UNSUPPORTED_NETWORK, got %v", err)
	}
	if _, err := h.service.Submit(ctx, Request{Network: "goerli", Mode: "yolo"}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}

	first, err := h.service.Submit(ctx, Request{ID: "fixed", Network: "goerli", Mode: "simulate"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := h.service.Submit(ctx, Request{ID: "fixed", Network: "goerli", Mode: "relay"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || second.Mode != config.ModeSimulate {
		t.Fatalf("resubmitting an id should return the existing run, got %+v", second)
	}
}
