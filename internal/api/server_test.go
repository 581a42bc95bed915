package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"Treasury-Rebalancer/internal/config"
	"Treasury-Rebalancer/internal/task"
)

func newTestServer(t *testing.T) (*httptest.Server, *task.MemoryQueue) {
	t.Helper()
	networks, err := config.LoadNetworks("")
	require.NoError(t, err)
	queue := task.NewMemoryQueue(8)
	svc := task.NewService(task.NewMemoryStore(0), queue, networks)
	srv := httptest.NewServer(NewServer(config.ServerConfig{}, svc, networks).Handler())
	t.Cleanup(srv.Close)
	return srv, queue
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestCreateAndFetchRun(t *testing.T) {
	srv, queue := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(`{"network":"goerli","mode":"simulate"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created task.Run
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, task.StatusPending, created.Status)
	require.Equal(t, 1, queue.Len())

	resp, err = http.Get(srv.URL + "/api/v1/runs/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched task.Run
	decode(t, resp, &fetched)
	require.Equal(t, created.ID, fetched.ID)
	require.Equal(t, "goerli", fetched.Network)

	resp, err = http.Get(srv.URL + "/api/v1/runs?limit=5")
	require.NoError(t, err)
	var list []task.Run
	decode(t, resp, &list)
	require.Len(t, list, 1)
}

func TestRunErrorsMapToStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unsupported network", http.MethodPost, "/api/v1/runs", `{"network":"polygon","mode":"simulate"}`, http.StatusBadRequest, "UNSUPPORTED_NETWORK"},
		{"bad mode", http.MethodPost, "/api/v1/runs", `{"network":"goerli","mode":"yolo"}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad body", http.MethodPost, "/api/v1/runs", `{`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing run", http.MethodGet, "/api/v1/runs/missing", "", http.StatusNotFound, "NOT_FOUND"},
		{"bad limit", http.MethodGet, "/api/v1/runs?limit=-1", "", http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			var body errorBody
			decode(t, resp, &body)
			require.Equal(t, tc.code, body.Code)
		})
	}
}

func TestHealthNetworksAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/networks")
	require.NoError(t, err)
	var networks map[string][]string
	decode(t, resp, &networks)
	require.Equal(t, []string{"goerli", "mainnet"}, networks["networks"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `treasury_http_requests_total{code="200",handler="/healthz",method="GET"}`)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/runs/abc", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
