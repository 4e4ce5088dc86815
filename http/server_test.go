package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
	"github.com/StartaleGroup/scs-aa-paymasters/ledger"
	"github.com/StartaleGroup/scs-aa-paymasters/modes/token"
	"github.com/StartaleGroup/scs-aa-paymasters/oracle"
	"github.com/StartaleGroup/scs-aa-paymasters/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// acceptAll is a minimal funding mode for exercising the HTTP surface.
type acceptAll struct{}

func (acceptAll) Mode() paymaster.Mode { return paymaster.ModeSponsoring }

func (acceptAll) Validate(context.Context, *paymaster.UserOperation, *big.Int) (paymaster.ValidationResult, error) {
	return paymaster.ValidationResult{
		Accepted: true,
		Context:  []byte{byte(paymaster.ModeSponsoring), 0x01},
	}, nil
}

func (acceptAll) Settle(context.Context, paymaster.PostOpMode, []byte, uint64, *big.Int) (paymaster.SettleResult, error) {
	return paymaster.SettleResult{
		Charged:  big.NewInt(100),
		Premium:  big.NewInt(10),
		Refunded: big.NewInt(5),
	}, nil
}

type env struct {
	server *Server
	ledger *ledger.Ledger
	clock  *clockwork.FakeClock
	tokens *token.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clock := clockwork.NewFakeClock()
	led := ledger.New(ledger.WithClock(clock), ledger.WithWithdrawalDelay(time.Hour))
	reg := registry.New()
	params := paymaster.NewParams(common.HexToAddress("0x1"))
	engine := paymaster.New().Register(acceptAll{})
	tokens := token.New(led, reg, params, oracle.NewHelper(), big.NewInt(1868),
		common.HexToAddress("0x2"), common.HexToAddress("0x3"), nil)

	return &env{
		server: NewServer(engine, led, reg, params, WithTokenHandler(tokens)),
		ledger: led,
		clock:  clock,
		tokens: tokens,
	}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestDepositAndBalance(t *testing.T) {
	e := newEnv(t)
	account := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

	rec := e.do(t, http.MethodPost, "/deposits", gin.H{"account": account, "amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", decodeBody(t, rec)["balance"])

	rec = e.do(t, http.MethodGet, "/balances/"+account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "1000", body["balance"])
	assert.Nil(t, body["pendingWithdrawal"])
}

func TestDepositRejectsMalformedAmount(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/deposits", gin.H{"account": "0x1", "amount": "1.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, paymaster.ErrCodeMalformedPayload, decodeBody(t, rec)["code"])
}

func TestValidateEndpoint(t *testing.T) {
	e := newEnv(t)

	req := gin.H{
		"userOperation": gin.H{
			"sender":        "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			"maxFeePerGas":  "1000000000",
			"paymasterData": hexutil.Encode([]byte{byte(paymaster.ModeSponsoring), 0xAA}),
		},
		"maxCost": "2000000000000000000",
	}
	rec := e.do(t, http.MethodPost, "/validate", req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, hexutil.Encode([]byte{byte(paymaster.ModeSponsoring), 0x01}), body["context"])
}

func TestValidateEndpointUnknownMode(t *testing.T) {
	e := newEnv(t)

	req := gin.H{
		"userOperation": gin.H{
			"sender":        "0x1",
			"maxFeePerGas":  "1",
			"paymasterData": "0x7f",
		},
		"maxCost": "1",
	}
	rec := e.do(t, http.MethodPost, "/validate", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, paymaster.ErrCodeMalformedPayload, decodeBody(t, rec)["code"])
}

func TestSettleEndpoint(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/settle", gin.H{
		"context":        hexutil.Encode([]byte{byte(paymaster.ModeSponsoring), 0x01}),
		"actualGasUsed":  100000,
		"actualGasPrice": "1000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "100", body["charged"])
	assert.Equal(t, "10", body["premium"])
}

func TestWithdrawalFlow(t *testing.T) {
	e := newEnv(t)
	account := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	dest := "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

	rec := e.do(t, http.MethodPost, "/deposits", gin.H{"account": account, "amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/withdrawals", gin.H{"account": account, "destination": dest, "amount": "400"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Pending request shows in the balance view.
	rec = e.do(t, http.MethodGet, "/balances/"+account, nil)
	body := decodeBody(t, rec)
	require.NotNil(t, body["pendingWithdrawal"])

	// Not matured yet.
	rec = e.do(t, http.MethodPost, "/withdrawals/"+account+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	e.clock.Advance(time.Hour)
	rec = e.do(t, http.MethodPost, "/withdrawals/"+account+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "400", decodeBody(t, rec)["withdrawn"])

	// A second execute has nothing to consume.
	rec = e.do(t, http.MethodPost, "/withdrawals/"+account+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelWithdrawal(t *testing.T) {
	e := newEnv(t)
	account := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

	rec := e.do(t, http.MethodPost, "/deposits", gin.H{"account": account, "amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/withdrawals", gin.H{
		"account":     account,
		"destination": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"amount":      "400",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodDelete, "/withdrawals/"+account, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	e.clock.Advance(2 * time.Hour)
	rec = e.do(t, http.MethodPost, "/withdrawals/"+account+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignerAdministration(t *testing.T) {
	e := newEnv(t)
	addr := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

	rec := e.do(t, http.MethodPut, "/admin/signers/"+addr, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The zero address is rejected with a 400.
	rec = e.do(t, http.MethodPut, "/admin/signers/0x0000000000000000000000000000000000000000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/admin/signers/"+addr, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParamsAdministration(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/admin/fee-collector", gin.H{"address": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/admin/unaccounted-gas", gin.H{"gas": 48500})
	require.Equal(t, http.StatusOK, rec.Code)

	// Bounded by the maximum.
	rec = e.do(t, http.MethodPut, "/admin/unaccounted-gas", gin.H{"gas": 500000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/admin/min-deposit", gin.H{"amount": "1000000"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/admin/withdrawal-delay", gin.H{"delay": "2h"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/admin/withdrawal-delay", gin.H{"delay": "48h"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/admin/withdrawal-delay", gin.H{"delay": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenAdministration(t *testing.T) {
	e := newEnv(t)
	addr := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	rec := e.do(t, http.MethodPut, "/admin/tokens/"+addr.Hex(), gin.H{
		"feeMarkup":          1200000,
		"maxRoundAgeSeconds": 300,
		"assetDecimals":      8,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	entry, ok := e.tokens.Token(addr)
	require.True(t, ok)
	assert.Equal(t, uint32(1_200_000), entry.Config.FeeMarkup)
	assert.True(t, entry.Config.Enabled)
	assert.Equal(t, 5*time.Minute, entry.Oracle.MaxRoundAge)

	rec = e.do(t, http.MethodDelete, "/admin/tokens/"+addr.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = e.tokens.Token(addr)
	assert.False(t, ok)
}

func TestTokenAdministrationDisabled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	led := ledger.New(ledger.WithClock(clock))
	e := &env{
		server: NewServer(paymaster.New(), led, registry.New(), paymaster.NewParams(common.HexToAddress("0x1"))),
		ledger: led,
		clock:  clock,
	}

	rec := e.do(t, http.MethodPut, "/admin/tokens/0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", gin.H{"feeMarkup": 1200000})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
