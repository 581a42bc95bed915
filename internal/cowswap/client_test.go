package cowswap

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
	weth     = common.HexToAddress("0xB4FBF271143F4FBf7B91A5ded31805e42b2208d6")
	usdc     = common.HexToAddress("0x99c417088aD4a572ba76b545bB29bc3ca840C2Af")
	multisig = common.HexToAddress("0x314C36C877349E87F8d02eF1B4475BD398ec552E")
	wallet   = common.HexToAddress("0x0904Dac3347eA47d208F3Fd67402D039a3b99859")
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/goerli/"}, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return c
}

func TestQuoteBuy(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/goerli/api/v1/quote", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"quote": {
				"sellToken": "0xb4fbf271143f4fbf7b91a5ded31805e42b2208d6",
				"buyToken": "0x99c417088ad4a572ba76b545bb29bc3ca840c2af",
				"receiver": "0x0904dac3347ea47d208f3fd67402d039a3b99859",
				"sellAmount": "500000000000000000",
				"buyAmount": "1000000000",
				"validTo": 1700003600,
				"appData": "0x0000000000000000000000000000000000000000000000000000000000000000",
				"feeAmount": "1000000000000000",
				"kind": "buy",
				"partiallyFillable": false,
				"sellTokenBalance": "erc20",
				"buyTokenBalance": "erc20"
			},
			"from": "0x314c36c877349e87f8d02ef1b4475bd398ec552e",
			"expiration": "2023-11-14T22:43:20.000Z",
			"id": 42
		}`))
	})

	q, err := c.Quote(context.Background(), QuoteRequest{
		SellToken: weth,
		BuyToken:  usdc,
		Receiver:  wallet,
		From:      multisig,
		Kind:      KindBuy,
		Amount:    big.NewInt(1_000_000_000),
	})
	require.NoError(t, err)

	assert.Equal(t, "buy", got["kind"])
	assert.Equal(t, "1000000000", got["buyAmountAfterFee"])
	assert.NotContains(t, got, "sellAmountBeforeFee")
	assert.Equal(t, float64(fixedNow.Add(time.Hour).Unix()), got["validTo"])
	assert.Equal(t, ZeroAppData, got["appData"])
	assert.Equal(t, false, got["partiallyFillable"])
	assert.Equal(t, "erc20", got["sellTokenBalance"])
	assert.Equal(t, "0x314c36c877349e87f8d02ef1b4475bd398ec552e", got["from"])

	assert.Equal(t, int64(42), q.ID)
	assert.Equal(t, KindBuy, q.Kind)
	assert.Equal(t, "500000000000000000", q.SellAmount.String())
	assert.Equal(t, "501000000000000000", q.Cost().String())
	assert.Equal(t, multisig, q.From)
	assert.Equal(t, int64(1700003600), q.ValidTo)
	assert.False(t, q.Expired(fixedNow))
	assert.True(t, q.Expired(fixedNow.Add(2*time.Hour)))
}

func TestQuoteSellUsesSellAmountBeforeFee(t *testing.T) {
	t.Parallel()

	var got quoteRequestBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"quote":{"sellAmount":"10","buyAmount":"20","feeAmount":"0","kind":"sell","validTo":1700003600},"id":1}`))
	})

	q, err := c.Quote(context.Background(), QuoteRequest{SellToken: weth, BuyToken: usdc, Kind: KindSell, Amount: big.NewInt(10)})
	require.NoError(t, err)
	assert.Equal(t, "10", got.SellAmountBeforeFee)
	assert.Empty(t, got.BuyAmountAfterFee)
	assert.Equal(t, KindSell, q.Kind)
	assert.True(t, q.Expiration.IsZero())
}

func TestQuoteRejectsBadInput(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.Quote(context.Background(), QuoteRequest{Kind: KindBuy, Amount: big.NewInt(0)})
	assert.Equal(t, xerrors.CodeInvalidAmount, xerrors.CodeOf(err))

	_, err = c.Quote(context.Background(), QuoteRequest{Kind: "limit", Amount: big.NewInt(1)})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	assert.Zero(t, calls.Load())
}

func TestQuoteAPIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorType":"SellAmountDoesNotCoverFee","description":"fee too high"}`))
	})

	_, err := c.Quote(context.Background(), QuoteRequest{Kind: KindBuy, Amount: big.NewInt(1)})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCollaboratorFailure, xerrors.CodeOf(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "SellAmountDoesNotCoverFee", apiErr.ErrorType)
}

func TestQuoteDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Quote(context.Background(), QuoteRequest{Kind: KindBuy, Amount: big.NewInt(1)})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()

	var got orderBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/goerli/api/v1/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`"0xabcdef"`))
	})

	quote := &Quote{
		ID:         7,
		SellToken:  weth,
		BuyToken:   usdc,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(200),
		FeeAmount:  big.NewInt(3),
		ValidTo:    1700003600,
		Kind:       KindSell,
	}
	uid, err := c.PlaceOrder(context.Background(), OrderRequest{Quote: quote, From: multisig, Receiver: wallet})
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", uid)

	assert.Equal(t, SigningPresign, got.SigningScheme)
	assert.Equal(t, "0x", got.Signature)
	assert.Equal(t, KindSell, got.Kind)
	assert.Equal(t, "100", got.SellAmount)
	assert.Equal(t, "3", got.FeeAmount)
	assert.Equal(t, "0x0904dac3347ea47d208f3fd67402d039a3b99859", got.Receiver)
	assert.Equal(t, "0x314c36c877349e87f8d02ef1b4475bd398ec552e", got.From)
	require.NotNil(t, got.QuoteID)
	assert.Equal(t, int64(7), *got.QuoteID)
}

func TestPlaceOrderRequiresQuote(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.PlaceOrder(context.Background(), OrderRequest{})
	require.Error(t, err)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.Error(t, err)
}
