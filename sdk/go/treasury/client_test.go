package treasury

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunPostsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var sub RunSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if sub.Network != "goerli" || sub.Mode != "simulate" {
			t.Fatalf("unexpected submission %+v", sub)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Network: sub.Network, Mode: sub.Mode, Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	run, err := client.SubmitRun(context.Background(), RunSubmission{Network: "goerli", Mode: "simulate"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.ID != "run-1" || run.Status != "pending" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestAPIErrorDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"UNSUPPORTED_NETWORK","message":"network polygon is not supported"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.SubmitRun(context.Background(), RunSubmission{Network: "polygon", Mode: "simulate"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "UNSUPPORTED_NETWORK" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestListRunsSendsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Fatalf("expected limit=3, got %q", got)
		}
		_ = json.NewEncoder(w).Encode([]Run{{ID: "b"}, {ID: "a"}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	runs, err := client.ListRuns(context.Background(), 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestWaitForRunPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-9" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		status := "running"
		if calls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Run{ID: "run-9", Status: status})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	run, err := client.WaitForRun(ctx, "run-9", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if run.Status != "succeeded" || calls.Load() != 3 {
		t.Fatalf("unexpected run %+v after %d calls", run, calls.Load())
	}
}

func TestNetworks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"networks": {"goerli", "mainnet"}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	names, err := client.Networks(context.Background())
	if err != nil {
		t.Fatalf("networks: %v", err)
	}
	if len(names) != 2 || names[1] != "mainnet" {
		t.Fatalf("unexpected networks %v", names)
	}
}
