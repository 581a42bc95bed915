// Package treasury computes how far each configured stablecoin is below its
// target balance.
package treasury

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "Treasury-Rebalancer/internal/errors"
)

// Asset is the balance record of one token.
type Asset struct {
	Symbol string
	Token  common.Address
	Units  Units
	// Balance and Target are base unit amounts.
	Balance *big.Int
	Target  *big.Int
	// Deficit is nil unless the asset came out of FilterBelowThreshold.
	Deficit        *big.Int
	DeficitDecimal decimal.Decimal
}

func (a Asset) clone() Asset {
	a.Balance = copyInt(a.Balance)
	a.Target = copyInt(a.Target)
	a.Deficit = copyInt(a.Deficit)
	return a
}

// Holdings is an ordered set of assets keyed by symbol. Iteration follows
// insertion order so quoting and order placement are reproducible.
type Holdings struct {
	order  []string
	assets map[string]Asset
}

// NewHoldings builds holdings from assets. A repeated symbol replaces the
// earlier entry but keeps its position.
func NewHoldings(assets ...Asset) Holdings {
	h := Holdings{assets: make(map[string]Asset, len(assets))}
	for _, a := range assets {
		h = h.put(a)
	}
	return h
}

func (h Holdings) put(a Asset) Holdings {
	if h.assets == nil {
		h.assets = make(map[string]Asset)
	}
	if _, ok := h.assets[a.Symbol]; !ok {
		h.order = append(h.order, a.Symbol)
	}
	h.assets[a.Symbol] = a.clone()
	return h
}

// Len returns the number of assets.
func (h Holdings) Len() int { return len(h.order) }

// Symbols returns the symbols in iteration order.
func (h Holdings) Symbols() []string {
	return append([]string(nil), h.order...)
}

// Get returns a copy of the asset with the given symbol.
func (h Holdings) Get(symbol string) (Asset, bool) {
	a, ok := h.assets[symbol]
	if !ok {
		return Asset{}, false
	}
	return a.clone(), true
}

// All returns copies of every asset in iteration order.
func (h Holdings) All() []Asset {
	out := make([]Asset, 0, len(h.order))
	for _, s := range h.order {
		out = append(out, h.assets[s].clone())
	}
	return out
}

// ComputeDeficit returns target-balance and true when balance is below
// target. When balance already meets the target it returns (nil, false): no
// top-up is needed, which is different from a zero deficit.
func ComputeDeficit(target, balance *big.Int) (*big.Int, bool) {
	if target == nil || balance == nil {
		return nil, false
	}
	if balance.Cmp(target) >= 0 {
		return nil, false
	}
	return new(big.Int).Sub(target, balance), true
}

// FilterBelowThreshold returns the assets whose balance is below target with
// Deficit and DeficitDecimal filled in. Assets at or above target are left
// out.
func FilterBelowThreshold(h Holdings) (Holdings, error) {
	out := NewHoldings()
	for _, a := range h.All() {
		if a.Balance == nil || a.Target == nil {
			return Holdings{}, xerrors.Newf(xerrors.CodeInvariantViolation, "asset %s has no balance or target", a.Symbol)
		}
		deficit, ok := ComputeDeficit(a.Target, a.Balance)
		if !ok {
			continue
		}
		a.Deficit = deficit
		a.DeficitDecimal = a.Units.Format(deficit)
		out = out.put(a)
	}
	return out, nil
}

// FilterNonZero drops assets whose balance is zero or unknown.
func FilterNonZero(h Holdings) Holdings {
	out := NewHoldings()
	for _, a := range h.All() {
		if a.Balance == nil || a.Balance.Sign() == 0 {
			continue
		}
		out = out.put(a)
	}
	return out
}

// Merge sums balances of the same asset held in two locations. Assets that
// appear only in b are appended after those of a.
func Merge(a, b Holdings) (Holdings, error) {
	out := NewHoldings(a.All()...)
	for _, other := range b.All() {
		existing, ok := out.assets[other.Symbol]
		if !ok {
			out = out.put(other)
			continue
		}
		if existing.Token != other.Token {
			return Holdings{}, xerrors.Newf(xerrors.CodeInvariantViolation,
				"asset %s maps to %s and %s", other.Symbol, existing.Token.Hex(), other.Token.Hex())
		}
		total := new(big.Int)
		if existing.Balance != nil {
			total.Add(total, existing.Balance)
		}
		if other.Balance != nil {
			total.Add(total, other.Balance)
		}
		existing.Balance = total
		out = out.put(existing)
	}
	return out, nil
}

// WithBalances returns a copy of h where every asset's balance is taken from
// balances (keyed by symbol). Missing symbols are an error.
func WithBalances(h Holdings, balances map[string]*big.Int) (Holdings, error) {
	out := NewHoldings()
	for _, a := range h.All() {
		bal, ok := balances[a.Symbol]
		if !ok || bal == nil {
			return Holdings{}, xerrors.Newf(xerrors.CodeInvariantViolation, "no balance for %s", a.Symbol)
		}
		a.Balance = bal
		out = out.put(a)
	}
	return out, nil
}

// Target is the configured goal for one stablecoin.
type Target struct {
	Symbol  string
	Token   common.Address
	Units   string
	Desired string
}

// AssetsFromTargets turns configured targets into assets with no balance yet.
func AssetsFromTargets(targets []Target) (Holdings, error) {
	if len(targets) == 0 {
		return Holdings{}, xerrors.New(xerrors.CodeInvariantViolation, "no stablecoins configured")
	}
	assets := make([]Asset, 0, len(targets))
	for _, t := range targets {
		units, err := ParseUnits(t.Units)
		if err != nil {
			return Holdings{}, err
		}
		desired, err := units.Parse(t.Desired)
		if err != nil {
			return Holdings{}, xerrors.Wrap(xerrors.CodeInvariantViolation, err, "target for "+t.Symbol)
		}
		assets = append(assets, Asset{Symbol: t.Symbol, Token: t.Token, Units: units, Target: desired})
	}
	return NewHoldings(assets...), nil
}

// EstimateNative converts a stablecoin deficit into ETH at the given USD rate.
// It is informational only.
func EstimateNative(deficit, rate decimal.Decimal) decimal.Decimal {
	if rate.Sign() <= 0 {
		return decimal.Zero
	}
	return deficit.DivRound(rate, 18)
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
