// Package strategy decides how the multisig's ETH is swapped for the missing
// stablecoins and places the corresponding CoW Protocol orders.
package strategy

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Treasury-Rebalancer/internal/batch"
	"Treasury-Rebalancer/internal/cowswap"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/treasury"
	"Treasury-Rebalancer/pkg/logger"
)

// Venue quotes and places orders.
type Venue interface {
	Quote(ctx context.Context, req cowswap.QuoteRequest) (*cowswap.Quote, error)
	PlaceOrder(ctx context.Context, req cowswap.OrderRequest) (string, error)
}

// Mode is the swap strategy chosen for a run.
type Mode string

const (
	// ModeBuy buys every deficit exactly.
	ModeBuy Mode = "buy"
	// ModeSell splits the available ETH evenly across the deficits.
	ModeSell Mode = "sell"
)

// State is a step of the selector.
type State string

const (
	StateCollectQuotes State = "collect_quotes"
	StateDecideMode    State = "decide_mode"
	StateBuy           State = "buy"
	StateSell          State = "sell"
	StatePlaceOrders   State = "place_orders"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Input is what the selector needs for one run.
type Input struct {
	// Shortfalls holds only assets with a positive deficit, in run order.
	Shortfalls treasury.Holdings
	// Available is the ETH the run may spend, already capped.
	Available *big.Int
	// SellToken is WETH.
	SellToken common.Address
	// From is the multisig that owns the ETH.
	From common.Address
	// Receiver gets the bought stablecoins.
	Receiver common.Address
}

// Order is a placed order and the operation that approves it on chain.
type Order struct {
	Symbol    string
	Quote     *cowswap.Quote
	UID       string
	Operation batch.Operation
}

// Plan is the outcome of a successful selection.
type Plan struct {
	Mode       Mode
	Orders     []Order
	TotalSpend *big.Int
	Trace      []State
}

// Selector runs the quote, decide and place sequence.
type Selector struct {
	venue      Venue
	encoder    *batch.Encoder
	settlement string
	logger     *slog.Logger
	now        func() time.Time
}

// Option customises a Selector.
type Option func(*Selector)

// WithLogger sets the selector's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time used for quote expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSelector returns a selector placing orders on venue and approving them
// on the settlement contract.
func NewSelector(venue Venue, encoder *batch.Encoder, settlement string, opts ...Option) *Selector {
	s := &Selector{
		venue:      venue,
		encoder:    encoder,
		settlement: settlement,
		logger:     logger.Named("strategy"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type run struct {
	*Selector
	in    Input
	trace []State
}

func (r *run) enter(st State) {
	r.trace = append(r.trace, st)
	r.logger.Debug("strategy state", "state", string(st))
}

func (r *run) fail(err error) (*Plan, error) {
	r.enter(StateFailed)
	r.logger.Error("strategy failed", "trace", r.trace, "error", err)
	return nil, err
}

// Plan quotes every shortfall, chooses the mode and places the orders. Either
// every order is placed and approved or an error is returned.
func (s *Selector) Plan(ctx context.Context, in Input) (*Plan, error) {
	r := &run{Selector: s, in: in}

	if in.Shortfalls.Len() == 0 {
		r.enter(StateDone)
		return &Plan{Mode: ModeBuy, TotalSpend: new(big.Int), Trace: r.trace}, nil
	}
	if in.Available == nil || in.Available.Sign() <= 0 {
		return r.fail(xerrors.New(xerrors.CodeInvalidAmount, "no ETH available to swap"))
	}

	r.enter(StateCollectQuotes)
	quotes, cost, err := r.collectBuyQuotes(ctx)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateDecideMode)
	mode := ModeSell
	if cost.Cmp(in.Available) <= 0 {
		mode = ModeBuy
	}
	s.logger.Info("swap mode decided",
		"mode", string(mode),
		"cost_wei", cost.String(),
		"available_wei", in.Available.String(),
	)

	total := cost
	if mode == ModeBuy {
		r.enter(StateBuy)
	} else {
		r.enter(StateSell)
		quotes, err = r.collectSellQuotes(ctx)
		if err != nil {
			return r.fail(err)
		}
		total = new(big.Int).Set(in.Available)
	}

	r.enter(StatePlaceOrders)
	orders, err := r.placeOrders(ctx, quotes)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateDone)
	return &Plan{Mode: mode, Orders: orders, TotalSpend: total, Trace: r.trace}, nil
}

func (r *run) collectBuyQuotes(ctx context.Context) ([]*cowswap.Quote, *big.Int, error) {
	quotes := make([]*cowswap.Quote, 0, r.in.Shortfalls.Len())
	cost := new(big.Int)
	for _, a := range r.in.Shortfalls.All() {
		if a.Deficit == nil || a.Deficit.Sign() <= 0 {
			return nil, nil, xerrors.Newf(xerrors.CodeInvariantViolation, "%s has no deficit", a.Symbol)
		}
		q, err := r.quote(ctx, a, cowswap.KindBuy, a.Deficit)
		if err != nil {
			return nil, nil, err
		}
		cost.Add(cost, q.Cost())
		quotes = append(quotes, q)
	}
	return quotes, cost, nil
}

// collectSellQuotes splits Available evenly; the last asset also takes the
// division remainder so the shares add up to Available.
func (r *run) collectSellQuotes(ctx context.Context) ([]*cowswap.Quote, error) {
	shares := SplitEven(r.in.Available, r.in.Shortfalls.Len())
	if shares[0].Sign() == 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidAmount, "%s wei cannot be split across %d assets", r.in.Available, len(shares))
	}
	quotes := make([]*cowswap.Quote, 0, len(shares))
	for i, a := range r.in.Shortfalls.All() {
		q, err := r.quote(ctx, a, cowswap.KindSell, shares[i])
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (r *run) quote(ctx context.Context, a treasury.Asset, kind cowswap.Kind, amount *big.Int) (*cowswap.Quote, error) {
	q, err := r.venue.Quote(ctx, cowswap.QuoteRequest{
		SellToken: r.in.SellToken,
		BuyToken:  a.Token,
		Receiver:  r.in.Receiver,
		From:      r.in.From,
		Kind:      kind,
		Amount:    amount,
	})
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "quote "+a.Symbol)
		}
		return nil, err
	}
	if q == nil || q.SellAmount == nil || q.SellAmount.Sign() == 0 {
		return nil, xerrors.Newf(xerrors.CodeInvariantViolation, "%s quote has zero sell amount", a.Symbol)
	}
	r.logger.Info("quote collected",
		"symbol", a.Symbol,
		"kind", string(kind),
		"amount", amount.String(),
		"sell_amount", q.SellAmount.String(),
		"fee_amount", q.FeeAmount.String(),
	)
	return q, nil
}

func (r *run) placeOrders(ctx context.Context, quotes []*cowswap.Quote) ([]Order, error) {
	assets := r.in.Shortfalls.All()
	orders := make([]Order, 0, len(quotes))
	for i, q := range quotes {
		symbol := assets[i].Symbol
		if q.Expired(r.now()) {
			return nil, xerrors.Newf(xerrors.CodeQuoteExpired, "%s quote %d expired before placement", symbol, q.ID)
		}
		uid, err := r.venue.PlaceOrder(ctx, cowswap.OrderRequest{Quote: q, From: r.in.From, Receiver: r.in.Receiver})
		if err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeUnknown {
				err = xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "place order "+symbol)
			}
			return nil, err
		}
		op, err := r.encoder.ApproveOrder(ctx, r.settlement, batch.OrderApproval{
			SellToken:        q.SellToken.Hex(),
			BuyToken:         q.BuyToken.Hex(),
			Receiver:         r.in.Receiver.Hex(),
			SellAmount:       q.SellAmount,
			BuyAmount:        q.BuyAmount,
			FeeAmount:        q.FeeAmount,
			ValidTo:          q.ValidTo,
			Kind:             string(q.Kind),
			SellTokenBalance: q.SellTokenBalance,
			BuyTokenBalance:  q.BuyTokenBalance,
			OrderUID:         uid,
		})
		if err != nil {
			return nil, err
		}
		r.logger.Info("order placed", "symbol", symbol, "uid", uid)
		orders = append(orders, Order{Symbol: symbol, Quote: q, UID: uid, Operation: op})
	}
	return orders, nil
}

// SplitEven divides total into n shares of floor(total/n); the last share
// also receives the remainder. n must be positive.
func SplitEven(total *big.Int, n int) []*big.Int {
	count := big.NewInt(int64(n))
	share, dust := new(big.Int).QuoRem(total, count, new(big.Int))
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int).Set(share)
	}
	out[n-1].Add(out[n-1], dust)
	return out
}
