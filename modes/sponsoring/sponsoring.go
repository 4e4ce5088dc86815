// Package sponsoring implements the precharge-and-refund funding mode: a
// sponsor's prepaid native balance is debited by a worst-case estimate at
// validation and reconciled against the real cost at settlement.
package sponsoring

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
	"github.com/StartaleGroup/scs-aa-paymasters/codec"
	"github.com/StartaleGroup/scs-aa-paymasters/ledger"
	"github.com/StartaleGroup/scs-aa-paymasters/registry"
)

// Handler implements paymaster.ModeHandler for sponsored operations.
type Handler struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	params   *paymaster.Params

	chainID   *big.Int
	paymaster common.Address

	recorder paymaster.Recorder
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRecorder wires the audit event sink.
func WithRecorder(rec paymaster.Recorder) Option {
	return func(h *Handler) { h.recorder = rec }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New creates the sponsoring mode handler. chainID and paymasterAddr pin
// the attestation hash to one deployment.
func New(led *ledger.Ledger, reg *registry.Registry, params *paymaster.Params, chainID *big.Int, paymasterAddr common.Address, opts ...Option) *Handler {
	h := &Handler{
		ledger:    led,
		registry:  reg,
		params:    params,
		chainID:   chainID,
		paymaster: paymasterAddr,
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
	return paymaster.ModeSponsoring
}

// Validate implements paymaster.ModeHandler. On acceptance the sponsor is
// debited effectiveCost plus a worst-case penalty bound, both refundable at
// settlement.
func (h *Handler) Validate(ctx context.Context, op *paymaster.UserOperation, maxCost *big.Int) (paymaster.ValidationResult, error) {
	unaccounted := h.params.UnaccountedGas()
	if op.PaymasterPostOpGasLimit < unaccounted {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: %d < %d", paymaster.ErrPostOpGasTooLow, op.PaymasterPostOpGasLimit, unaccounted)
	}

	data, err := codec.DecodeSponsorship(op.PaymasterData[1:])
	if err != nil {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: %v", paymaster.ErrMalformedPayload, err)
	}

	hash := paymaster.SponsorshipHash(op, h.chainID, h.paymaster, data.Sponsor, data.ValidUntil, data.ValidAfter, data.FeeMarkup)
	signer := registry.RecoverSigner(hash, data.Signature)
	if !h.registry.IsSigner(signer) {
		// Not a failure: the caller may probe other payment methods.
		return paymaster.ValidationResult{
			Accepted:   false,
			DenyReason: "signature does not match a registered signer",
		}, nil
	}

	if !paymaster.ValidMarkup(data.FeeMarkup) {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: %d", paymaster.ErrMarkupOutOfRange, data.FeeMarkup)
	}

	penalty := paymaster.WorstCasePenalty(op, op.MaxFeePerGas)

	prefund := new(big.Int).Mul(new(big.Int).SetUint64(unaccounted), op.MaxFeePerGas)
	prefund.Add(prefund, maxCost)
	effectiveCost := paymaster.ApplyMarkup(prefund, data.FeeMarkup)

	precharge := new(big.Int).Add(effectiveCost, penalty)
	balance := h.ledger.Balance(data.Sponsor)
	if precharge.Cmp(balance) > 0 {
		return paymaster.ValidationResult{}, fmt.Errorf("%w: sponsor %s needs %s, has %s", paymaster.ErrInsufficientBalance, data.Sponsor.Hex(), precharge, balance)
	}
	if err := h.ledger.Debit(data.Sponsor, precharge); err != nil {
		return paymaster.ValidationResult{}, err
	}

	h.recorder.Record(paymaster.NewEvent(paymaster.EventGasBalanceDeducted, map[string]interface{}{
		"mode":    paymaster.ModeSponsoring.String(),
		"sponsor": data.Sponsor.Hex(),
		"amount":  precharge.String(),
		"phase":   "validation",
	}))

	sctx := settlementContext{
		Sponsor:           data.Sponsor,
		FeeMarkup:         data.FeeMarkup,
		Precharged:        precharge,
		PreOpGasApprox:    paymaster.PreOpGasApprox(op),
		ExecutionGasLimit: paymaster.ExecutionGasLimit(op),
	}
	return paymaster.ValidationResult{
		Accepted:   true,
		Context:    sctx.encode(),
		ValidAfter: data.ValidAfter,
		ValidUntil: data.ValidUntil,
	}, nil
}

// Settle implements paymaster.ModeHandler. It recomputes the charge from
// the measured cost with the same unaccounted-gas and penalty terms the
// validation leg assumed, credits the markup premium to the fee collector,
// and refunds or further debits the sponsor.
func (h *Handler) Settle(ctx context.Context, postOp paymaster.PostOpMode, contextBytes []byte, actualGasUsed uint64, actualGasPrice *big.Int) (paymaster.SettleResult, error) {
	sctx, err := decodeContext(contextBytes)
	if err != nil {
		return paymaster.SettleResult{}, err
	}

	totalCost := paymaster.CostWithUnaccounted(actualGasUsed, h.params.UnaccountedGas(), actualGasPrice)
	penalty := paymaster.ExpectedPenalty(sctx.ExecutionGasLimit, sctx.PreOpGasApprox, actualGasUsed, actualGasPrice)

	adjusted := paymaster.ApplyMarkup(totalCost, sctx.FeeMarkup)
	premium := new(big.Int).Sub(adjusted, totalCost)
	if err := h.ledger.Credit(h.params.FeeCollector(), premium); err != nil {
		return paymaster.SettleResult{}, fmt.Errorf("sponsoring: credit fee collector: %w", err)
	}

	charged := new(big.Int).Add(adjusted, penalty)
	refunded := new(big.Int)
	switch cmp := sctx.Precharged.Cmp(charged); {
	case cmp > 0:
		refunded.Sub(sctx.Precharged, charged)
		if err := h.ledger.Credit(sctx.Sponsor, refunded); err != nil {
			return paymaster.SettleResult{}, fmt.Errorf("sponsoring: refund: %w", err)
		}
	case cmp < 0:
		// Actual cost outgrew the estimate. Top up, clamped to what the
		// sponsor still holds; the ledger never goes negative.
		shortfall := new(big.Int).Sub(charged, sctx.Precharged)
		if bal := h.ledger.Balance(sctx.Sponsor); shortfall.Cmp(bal) > 0 {
			h.logger.Warn("sponsor balance cannot cover settlement shortfall",
				"sponsor", sctx.Sponsor.Hex(),
				"shortfall", shortfall.String(),
				"balance", bal.String())
			shortfall = bal
		}
		if err := h.ledger.Debit(sctx.Sponsor, shortfall); err != nil {
			return paymaster.SettleResult{}, fmt.Errorf("sponsoring: top-up debit: %w", err)
		}
	}

	h.recorder.Record(paymaster.NewEvent(paymaster.EventGasBalanceDeducted, map[string]interface{}{
		"mode":     paymaster.ModeSponsoring.String(),
		"sponsor":  sctx.Sponsor.Hex(),
		"amount":   charged.String(),
		"refunded": refunded.String(),
		"phase":    "settlement",
		"reverted": postOp == paymaster.OpReverted,
	}))

	return paymaster.SettleResult{
		Charged:  charged,
		Premium:  premium,
		Refunded: refunded,
	}, nil
}
