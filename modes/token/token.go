// Package token implements the charge-at-settlement funding mode: gas cost
// is converted into an ERC-20 amount and pulled from the payer after the
// operation ran, priced by a signed external quote or an on-chain oracle.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
	"github.com/StartaleGroup/scs-aa-paymasters/codec"
	"github.com/StartaleGroup/scs-aa-paymasters/ledger"
	"github.com/StartaleGroup/scs-aa-paymasters/oracle"
	"github.com/StartaleGroup/scs-aa-paymasters/registry"
)

// Entry is one supported token with its oracle attachment.
type Entry struct {
	Config paymaster.TokenConfig
	Oracle oracle.Config
}

// Handler implements paymaster.ModeHandler for ERC-20 fee payment.
type Handler struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	params   *paymaster.Params
	oracles  *oracle.Helper

	mu     sync.RWMutex
	tokens map[common.Address]Entry

	chainID   *big.Int
	paymaster common.Address
	treasury  common.Address

	balanceOf paymaster.TokenBalance
	transfer  paymaster.TokenTransfer

	recorder paymaster.Recorder
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithTokenBalance wires the validation-time balance snapshot guard.
func WithTokenBalance(balanceOf paymaster.TokenBalance) Option {
	return func(h *Handler) { h.balanceOf = balanceOf }
}

// WithRecorder wires the audit event sink.
func WithRecorder(rec paymaster.Recorder) Option {
	return func(h *Handler) { h.recorder = rec }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New creates the token mode handler. transfer performs the settlement-time
// ERC-20 pull into treasury and must be non-nil in production wiring.
func New(
	led *ledger.Ledger,
	reg *registry.Registry,
	params *paymaster.Params,
	oracles *oracle.Helper,
	chainID *big.Int,
	paymasterAddr, treasury common.Address,
	transfer paymaster.TokenTransfer,
	opts ...Option,
) *Handler {
	h := &Handler{
		ledger:    led,
		registry:  reg,
		params:    params,
		oracles:   oracles,
		tokens:    make(map[common.Address]Entry),
		chainID:   chainID,
		paymaster: paymasterAddr,
		treasury:  treasury,
		transfer:  transfer,
		recorder:  paymaster.NopRecorder{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mode implements paymaster.ModeHandler.
func (h *Handler) Mode() paymaster.Mode {
	return paymaster.ModeToken
}

// AddToken registers or updates a supported token.
func (h *Handler) AddToken(token common.Address, entry Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[token] = entry
}

// RemoveToken withdraws support for a token.
func (h *Handler) RemoveToken(token common.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tokens, token)
}

// Token returns the entry for a token, if supported.
func (h *Handler) Token(token common.Address) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.tokens[token]
	return entry, ok
}

// Validate implements paymaster.ModeHandler. The token mode never
// precharges: it fixes the pricing inputs in the settlement context and
// only snapshots the payer's token balance as a guard.
func (h *Handler) Validate(ctx context.Context, op *paymaster.UserOperation, maxCost *big.Int) (paymaster.ValidationResult, error) {
	unaccounted := h.params.UnaccountedGas()
	if op.PaymasterPostOpGasLimit < unaccounted {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: %d < %d", paymaster.ErrPostOpGasTooLow, op.PaymasterPostOpGasLimit, unaccounted)
	}

	data, err := codec.DecodeToken(op.PaymasterData[1:])
	if err != nil {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: %v", paymaster.ErrMalformedPayload, err)
	}

	entry, ok := h.Token(data.Token)
	if !ok || !entry.Config.Enabled {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: %s", paymaster.ErrUnsupportedToken, data.Token.Hex())
	}

	sctx := settlementContext{
		Payer:             op.Sender,
		Token:             data.Token,
		ExchangeRate:      new(big.Int),
		PreOpGasApprox:    paymaster.PreOpGasApprox(op),
		ExecutionGasLimit: paymaster.ExecutionGasLimit(op),
	}
	var result paymaster.ValidationResult

	switch data.QuoteMode {
	case codec.QuoteExternal:
		if data.ExchangeRate.Sign() == 0 {
			return paymaster.ValidationResult{}, paymaster.ErrZeroRate
		}
		hash := paymaster.TokenQuoteHash(op, h.chainID, h.paymaster, data.Token, data.ExchangeRate, data.AppliedMarkup, data.ValidUntil, data.ValidAfter)
		signer := registry.RecoverSigner(hash, data.Signature)
		if !h.registry.IsSigner(signer) {
			return paymaster.ValidationResult{
				Accepted:   false,
				DenyReason: "quote signature does not match a registered signer",
			}, nil
		}
		if !paymaster.ValidMarkup(data.AppliedMarkup) {
			return paymaster.ValidationResult{}, fmt.Errorf("%w: %d", paymaster.ErrMarkupOutOfRange, data.AppliedMarkup)
		}
		sctx.FeeMarkup = data.AppliedMarkup
		sctx.ExchangeRate.Set(data.ExchangeRate)
		sctx.RateFixed = true
		result.ValidAfter = data.ValidAfter
		result.ValidUntil = data.ValidUntil

	case codec.QuoteIndependent:
		if !paymaster.ValidMarkup(entry.Config.FeeMarkup) {
			return paymaster.ValidationResult{}, fmt.Errorf("%w: %d", paymaster.ErrMarkupOutOfRange, entry.Config.FeeMarkup)
		}
		sctx.FeeMarkup = entry.Config.FeeMarkup
	}

	if h.balanceOf != nil && sctx.RateFixed {
		// Soft guard only; the real transfer happens at settlement.
		worstCase := new(big.Int).Mul(new(big.Int).SetUint64(unaccounted), op.MaxFeePerGas)
		worstCase.Add(worstCase, maxCost)
		estimate := tokenAmount(paymaster.ApplyMarkup(worstCase, sctx.FeeMarkup), sctx.ExchangeRate, entry.Oracle.AssetDecimals)

		balance, err := h.balanceOf(ctx, data.Token, op.Sender)
		if err != nil {
			return paymaster.ValidationResult{}, fmt.Errorf("token: balance snapshot: %w", err)
		}
		if balance.Cmp(estimate) < 0 {
			return paymaster.ValidationResult{}, fmt.Errorf("%w: payer %s holds %s of %s, needs ~%s", paymaster.ErrInsufficientBalance, op.Sender.Hex(), balance, data.Token.Hex(), estimate)
		}
	}

	result.Accepted = true
	result.Context = sctx.encode()
	return result, nil
}

// Settle implements paymaster.ModeHandler. A transfer failure here is
// fatal: the operation already executed, so the error is wrapped as a
// charge failure for off-chain remediation, never retried.
func (h *Handler) Settle(ctx context.Context, postOp paymaster.PostOpMode, contextBytes []byte, actualGasUsed uint64, actualGasPrice *big.Int) (paymaster.SettleResult, error) {
	sctx, err := decodeContext(contextBytes)
	if err != nil {
		return paymaster.SettleResult{}, err
	}

	entry, ok := h.Token(sctx.Token)
	if !ok {
		return paymaster.SettleResult{}, fmt.Errorf("%w: %s", paymaster.ErrUnsupportedToken, sctx.Token.Hex())
	}

	totalCost := paymaster.CostWithUnaccounted(actualGasUsed, h.params.UnaccountedGas(), actualGasPrice)
	penalty := paymaster.ExpectedPenalty(sctx.ExecutionGasLimit, sctx.PreOpGasApprox, actualGasUsed, actualGasPrice)

	adjusted := paymaster.ApplyMarkup(totalCost, sctx.FeeMarkup)
	premium := new(big.Int).Sub(adjusted, totalCost)

	rate := sctx.ExchangeRate
	if !sctx.RateFixed {
		rate, err = h.oracles.FetchPrice(ctx, entry.Oracle)
		if err != nil {
			return paymaster.SettleResult{}, err
		}
	}

	charged := new(big.Int).Add(adjusted, penalty)
	amount := tokenAmount(charged, rate, entry.Oracle.AssetDecimals)

	if h.transfer == nil {
		return paymaster.SettleResult{}, fmt.Errorf("%w: no token transfer wired", paymaster.ErrChargeFailed)
	}
	if err := h.transfer(ctx, sctx.Token, sctx.Payer, h.treasury, amount); err != nil {
		return paymaster.SettleResult{}, fmt.Errorf("%w: %v", paymaster.ErrChargeFailed, err)
	}

	// Credit the premium only once the charge is in: a failed settlement
	// must not leave the collector paid for tokens that never moved.
	if err := h.ledger.Credit(h.params.FeeCollector(), premium); err != nil {
		return paymaster.SettleResult{}, fmt.Errorf("token: credit fee collector: %w", err)
	}

	h.recorder.Record(paymaster.NewEvent(paymaster.EventTokensPaid, map[string]interface{}{
		"payer":    sctx.Payer.Hex(),
		"token":    sctx.Token.Hex(),
		"amount":   amount.String(),
		"charged":  charged.String(),
		"reverted": postOp == paymaster.OpReverted,
	}))

	return paymaster.SettleResult{
		Charged:     charged,
		Premium:     premium,
		Token:       sctx.Token,
		TokenAmount: amount,
	}, nil
}

// tokenAmount converts a native-denominated charge into token units at the
// given rate, rounding up. rate is token units per native unit scaled by
// 10^decimals.
func tokenAmount(native, rate *big.Int, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	amount := new(big.Int).Mul(native, rate)
	amount.Add(amount, new(big.Int).Sub(scale, big.NewInt(1)))
	return amount.Div(amount, scale)
}
