// Package tenderly simulates assembled batches through the Tenderly
// simulation API and schedules delayed simulations.
package tenderly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sony/gobreaker"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/pkg/logger"
)

const (
	// DefaultAPIBase is the public Tenderly API host.
	DefaultAPIBase = "https://api.tenderly.co"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Config holds the account the simulations are saved under.
type Config struct {
	APIBase   string
	User      string
	Project   string
	AccessKey string
	Timeout   time.Duration
}

// SimulationRequest describes the call to simulate.
type SimulationRequest struct {
	ChainID *big.Int
	From    common.Address
	To      common.Address
	Input   []byte
	// BlockNumber is nil for the latest block.
	BlockNumber *big.Int
}

// SimulationResult is what Tenderly reports about a saved simulation.
type SimulationResult struct {
	ID     string
	Status bool
}

// Simulator runs a simulation and returns its outcome.
type Simulator interface {
	Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error)
}

type simulateBody struct {
	NetworkID   string  `json:"network_id"`
	From        string  `json:"from"`
	Input       string  `json:"input"`
	To          string  `json:"to"`
	BlockNumber *uint64 `json:"block_number"`
	Save        bool    `json:"save"`
}

type simulateResponse struct {
	Simulation struct {
		ID     string `json:"id"`
		Status bool   `json:"status"`
	} `json:"simulation"`
}

// Client calls the simulate endpoint.
type Client struct {
	cfg            Config
	endpoint       string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClient validates credentials and returns a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.User == "" || cfg.Project == "" || cfg.AccessKey == "" {
		return nil, xerrors.New(xerrors.CodeInvariantViolation, "tenderly user, project and access key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		endpoint:   cfg.APIBase + "/api/v1/account/" + url.PathEscape(cfg.User) + "/project/" + url.PathEscape(cfg.Project) + "/simulate",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("tenderly"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tenderly",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Simulate posts req and returns the saved simulation's id and status.
func (c *Client) Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	if req.ChainID == nil || req.ChainID.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "simulation needs a chain id")
	}
	if len(req.Input) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "simulation input is empty")
	}
	body := simulateBody{
		NetworkID: req.ChainID.String(),
		From:      strings.ToLower(req.From.Hex()),
		Input:     hexutil.Encode(req.Input),
		To:        strings.ToLower(req.To.Hex()),
		Save:      true,
	}
	if req.BlockNumber != nil {
		n := req.BlockNumber.Uint64()
		body.BlockNumber = &n
	}

	out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "tenderly simulation failed")
	}
	result := out.(*SimulationResult)
	c.logger.Info("simulation saved", "id", result.ID, "status", result.Status)
	return result, nil
}

func (c *Client) post(ctx context.Context, body simulateBody) (*SimulationResult, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Key", c.cfg.AccessKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var decoded simulateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Simulation.ID == "" {
		return nil, fmt.Errorf("response has no simulation id")
	}
	return &SimulationResult{ID: decoded.Simulation.ID, Status: decoded.Simulation.Status}, nil
}
