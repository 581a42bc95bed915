package cowswap

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the side of the order the amount is fixed on.
type Kind string

const (
	KindBuy  Kind = "buy"
	KindSell Kind = "sell"
)

// Token balance sources understood by the settlement contract.
const (
	BalanceERC20 = "erc20"
)

// SigningPresign marks orders authorised on chain through approveOrder
// instead of an off chain signature.
const SigningPresign = "presign"

// ZeroAppData is the empty app data hash.
const ZeroAppData = "0x0000000000000000000000000000000000000000000000000000000000000000"

// QuoteRequest asks for a price. For KindBuy, Amount is the buy amount after
// fees; for KindSell it is the sell amount before fees.
type QuoteRequest struct {
	SellToken common.Address
	BuyToken  common.Address
	Receiver  common.Address
	From      common.Address
	Kind      Kind
	Amount    *big.Int
	// ValidTo defaults to now plus the client's order validity.
	ValidTo int64
}

// Quote is a priced order returned by the API.
type Quote struct {
	ID                int64
	From              common.Address
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	FeeAmount         *big.Int
	ValidTo           int64
	AppData           string
	Kind              Kind
	PartiallyFillable bool
	SellTokenBalance  string
	BuyTokenBalance   string
	Expiration        time.Time
}

// Cost is what the order takes from the seller: sell amount plus fee.
func (q *Quote) Cost() *big.Int {
	cost := new(big.Int)
	if q.SellAmount != nil {
		cost.Add(cost, q.SellAmount)
	}
	if q.FeeAmount != nil {
		cost.Add(cost, q.FeeAmount)
	}
	return cost
}

// Expired reports whether the quote can no longer be placed at now.
func (q *Quote) Expired(now time.Time) bool {
	if !q.Expiration.IsZero() && !now.Before(q.Expiration) {
		return true
	}
	return q.ValidTo != 0 && now.Unix() >= q.ValidTo
}

// OrderRequest places a presigned order built from a quote.
type OrderRequest struct {
	Quote    *Quote
	From     common.Address
	Receiver common.Address
}

type quoteRequestBody struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	Receiver            string `json:"receiver"`
	From                string `json:"from"`
	Kind                Kind   `json:"kind"`
	BuyAmountAfterFee   string `json:"buyAmountAfterFee,omitempty"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee,omitempty"`
	ValidTo             int64  `json:"validTo"`
	AppData             string `json:"appData"`
	PartiallyFillable   bool   `json:"partiallyFillable"`
	SellTokenBalance    string `json:"sellTokenBalance"`
	BuyTokenBalance     string `json:"buyTokenBalance"`
	SigningScheme       string `json:"signingScheme"`
}

type quotePayload struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           int64  `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              Kind   `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
}

type quoteResponse struct {
	Quote      quotePayload `json:"quote"`
	From       string       `json:"from"`
	Expiration string       `json:"expiration"`
	ID         int64        `json:"id"`
}

type orderBody struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           int64  `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              Kind   `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
	From              string `json:"from"`
	QuoteID           *int64 `json:"quoteId,omitempty"`
}

// APIError is the error body returned by the order book.
type APIError struct {
	StatusCode  int    `json:"-"`
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.ErrorType == "" {
		return "cowswap: status " + strconv.Itoa(e.StatusCode)
	}
	return "cowswap: " + e.ErrorType + ": " + e.Description
}
