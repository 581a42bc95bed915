package tenderly

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Treasury-Rebalancer/internal/errors"
)

var (
	relayer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	roles   = common.HexToAddress("0x6c6FD9edC3C341E1CcaE6B3Dd8813869E41563fe")
)

func TestClientSimulate(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/account/ops/project/treasury/simulate", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Access-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"simulation":{"id":"sim-1","status":true}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIBase: srv.URL, User: "ops", Project: "treasury", AccessKey: "secret"})
	require.NoError(t, err)

	res, err := c.Simulate(context.Background(), SimulationRequest{
		ChainID: big.NewInt(5),
		From:    relayer,
		To:      roles,
		Input:   []byte{0xde, 0xad},
	})
	require.NoError(t, err)
	assert.Equal(t, "sim-1", res.ID)
	assert.True(t, res.Status)

	assert.Equal(t, "5", got["network_id"])
	assert.Equal(t, "0xdead", got["input"])
	assert.Equal(t, "0x6c6fd9edc3c341e1ccae6b3dd8813869e41563fe", got["to"])
	assert.Equal(t, true, got["save"])
	assert.Nil(t, got["block_number"])
}

func TestClientSimulateFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid network"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIBase: srv.URL, User: "u", Project: "p", AccessKey: "k"})
	require.NoError(t, err)

	_, err = c.Simulate(context.Background(), SimulationRequest{ChainID: big.NewInt(1), Input: []byte{1}})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCollaboratorFailure, xerrors.CodeOf(err))
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{User: "u", Project: "p"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvariantViolation, xerrors.CodeOf(err))
}

type stubSimulator struct {
	calls atomic.Int32
	err   error
}

func (s *stubSimulator) Simulate(ctx context.Context, _ SimulationRequest) (*SimulationResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &SimulationResult{ID: "sim", Status: true}, nil
}

func TestSchedulerRunsAfterDelay(t *testing.T) {
	t.Parallel()

	sim := &stubSimulator{}
	s := NewScheduler(sim, 20*time.Millisecond)

	start := time.Now()
	pending := s.Schedule(context.Background(), SimulationRequest{})
	res, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sim", res.ID)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(1), sim.calls.Load())

	select {
	case <-pending.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestSchedulerPropagatesError(t *testing.T) {
	t.Parallel()

	sim := &stubSimulator{err: errors.New("boom")}
	_, err := NewScheduler(sim, 0).Simulate(context.Background(), SimulationRequest{})
	require.Error(t, err)
}

func TestSchedulerCancelBeforeFire(t *testing.T) {
	t.Parallel()

	sim := &stubSimulator{}
	ctx, cancel := context.WithCancel(context.Background())
	pending := NewScheduler(sim, time.Hour).Schedule(ctx, SimulationRequest{})
	cancel()

	_, err := pending.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	assert.Zero(t, sim.calls.Load())
}

func TestSchedulerWaitContext(t *testing.T) {
	t.Parallel()

	sim := &stubSimulator{}
	pending := NewScheduler(sim, time.Hour).Schedule(context.Background(), SimulationRequest{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := pending.Wait(ctx)
	require.Error(t, err)
	assert.Zero(t, sim.calls.Load())
}
