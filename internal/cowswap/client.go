// Package cowswap is a client for the CoW Protocol order book API: price
// quotes and presigned order placement.
package cowswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/validate"
	"Treasury-Rebalancer/pkg/logger"
)

const (
	quotePath = "api/v1/quote"
	orderPath = "api/v1/orders"

	defaultTimeout       = 20 * time.Second
	defaultOrderValidity = time.Hour
	maxBodyBytes         = 1 << 20
)

// Config describes how to reach the order book of one network.
type Config struct {
	// BaseURL includes the network segment, e.g. https://api.cow.fi/goerli.
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	OrderValidity  time.Duration
}

// Client talks to the order book. Requests are rate limited and pass
// through a circuit breaker. Failed calls are not retried.
type Client struct {
	cfg            Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *slog.Logger
	now            func() time.Time
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

// WithClock overrides the time source used for validTo.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient returns an order book client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "cowswap base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.OrderValidity <= 0 {
		cfg.OrderValidity = defaultOrderValidity
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(limit, cfg.Burst),
		logger:      logger.Named("cowswap"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cowswap",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx answers describe a bad order, not an unhealthy API.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			apiErr, ok := err.(*APIError)
			return ok && apiErr.StatusCode < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Quote requests a price for req.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := validate.CheckPositive(req.Amount); err != nil {
		return nil, err
	}
	validTo := req.ValidTo
	if validTo == 0 {
		validTo = c.now().Add(c.cfg.OrderValidity).Unix()
	}
	if !validate.IsValidTimestamp(validTo) {
		return nil, xerrors.Newf(xerrors.CodeInvalidTimestamp, "validTo %d out of range", validTo)
	}

	body := quoteRequestBody{
		SellToken:         hexAddr(req.SellToken),
		BuyToken:          hexAddr(req.BuyToken),
		Receiver:          hexAddr(req.Receiver),
		From:              hexAddr(req.From),
		Kind:              req.Kind,
		ValidTo:           validTo,
		AppData:           ZeroAppData,
		PartiallyFillable: false,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
		SigningScheme:     SigningPresign,
	}
	switch req.Kind {
	case KindBuy:
		body.BuyAmountAfterFee = req.Amount.String()
	case KindSell:
		body.SellAmountBeforeFee = req.Amount.String()
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown order kind %q", req.Kind)
	}

	var resp quoteResponse
	if err := c.post(ctx, quotePath, body, &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "cowswap quote failed")
	}
	quote, err := resp.toQuote()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("quote received",
		"id", quote.ID,
		"kind", quote.Kind,
		"sell_amount", quote.SellAmount.String(),
		"buy_amount", quote.BuyAmount.String(),
		"fee_amount", quote.FeeAmount.String(),
	)
	return quote, nil
}

// PlaceOrder submits a presign order built from req.Quote and returns the
// order UID.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	q := req.Quote
	if q == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "order needs a quote")
	}
	body := orderBody{
		SellToken:         hexAddr(q.SellToken),
		BuyToken:          hexAddr(q.BuyToken),
		Receiver:          hexAddr(req.Receiver),
		SellAmount:        q.SellAmount.String(),
		BuyAmount:         q.BuyAmount.String(),
		ValidTo:           q.ValidTo,
		AppData:           ZeroAppData,
		FeeAmount:         q.FeeAmount.String(),
		Kind:              q.Kind,
		PartiallyFillable: false,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
		SigningScheme:     SigningPresign,
		Signature:         "0x",
		From:              hexAddr(req.From),
	}
	if q.ID != 0 {
		id := q.ID
		body.QuoteID = &id
	}

	var uid string
	if err := c.post(ctx, orderPath, body, &uid); err != nil {
		return "", xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "cowswap order placement failed")
	}
	if uid == "" {
		return "", xerrors.New(xerrors.CodeCollaboratorFailure, "cowswap returned an empty order uid")
	}
	c.logger.Info("order placed", "uid", uid, "kind", q.Kind)
	return uid, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doPost(ctx, path, payload, out)
	})
	return err
}

func (c *Client) doPost(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.ErrorType == "" {
			apiErr.ErrorType = http.StatusText(resp.StatusCode)
			apiErr.Description = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (r quoteResponse) toQuote() (*Quote, error) {
	p := r.Quote
	sell, err := validate.ParseUint256(p.SellAmount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "quote sellAmount")
	}
	buy, err := validate.ParseUint256(p.BuyAmount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "quote buyAmount")
	}
	fee, err := validate.ParseUint256(p.FeeAmount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "quote feeAmount")
	}
	q := &Quote{
		ID:                r.ID,
		From:              common.HexToAddress(r.From),
		SellToken:         common.HexToAddress(p.SellToken),
		BuyToken:          common.HexToAddress(p.BuyToken),
		Receiver:          common.HexToAddress(p.Receiver),
		SellAmount:        sell,
		BuyAmount:         buy,
		FeeAmount:         fee,
		ValidTo:           p.ValidTo,
		AppData:           p.AppData,
		Kind:              p.Kind,
		PartiallyFillable: p.PartiallyFillable,
		SellTokenBalance:  p.SellTokenBalance,
		BuyTokenBalance:   p.BuyTokenBalance,
	}
	if r.Expiration != "" {
		exp, err := time.Parse(time.RFC3339Nano, r.Expiration)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "quote expiration")
		}
		q.Expiration = exp
	}
	return q, nil
}

func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
