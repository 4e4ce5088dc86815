// Package paymaster implements a gas-sponsorship authorization and
// settlement engine. A Paymaster routes each user operation to a registered
// funding mode, which decides whether to fund it (validation) and later
// reconciles the estimated cost against the real one (settlement).
package paymaster

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// Paymaster routes validate/settle calls to registered mode handlers and
// runs lifecycle hooks around them. It is the single entry point the
// execution environment talks to.
type Paymaster struct {
	mu       sync.RWMutex
	handlers map[Mode]ModeHandler

	cache  *SettlementCache
	logger *slog.Logger

	beforeValidateHooks  []BeforeValidateHook
	afterValidateHooks   []AfterValidateHook
	validateFailureHooks []ValidateFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	settleFailureHooks   []SettleFailureHook
}

// Option configures a Paymaster.
type Option func(*Paymaster)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Paymaster) { p.logger = logger }
}

// WithSettlementCache sets the idempotency cache for settle calls. Without
// one, repeated settlement of the same context double-charges.
func WithSettlementCache(cache *SettlementCache) Option {
	return func(p *Paymaster) { p.cache = cache }
}

// New creates a Paymaster with no modes registered.
func New(opts ...Option) *Paymaster {
	p := &Paymaster{
		handlers: make(map[Mode]ModeHandler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a mode handler. Registering the same mode twice replaces
// the earlier handler.
func (p *Paymaster) Register(handler ModeHandler) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[handler.Mode()] = handler
	return p
}

// ============================================================================
// Hook Registration
// ============================================================================

func (p *Paymaster) OnBeforeValidate(hook BeforeValidateHook) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beforeValidateHooks = append(p.beforeValidateHooks, hook)
	return p
}

func (p *Paymaster) OnAfterValidate(hook AfterValidateHook) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afterValidateHooks = append(p.afterValidateHooks, hook)
	return p
}

func (p *Paymaster) OnValidateFailure(hook ValidateFailureHook) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validateFailureHooks = append(p.validateFailureHooks, hook)
	return p
}

func (p *Paymaster) OnBeforeSettle(hook BeforeSettleHook) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beforeSettleHooks = append(p.beforeSettleHooks, hook)
	return p
}

func (p *Paymaster) OnAfterSettle(hook AfterSettleHook) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afterSettleHooks = append(p.afterSettleHooks, hook)
	return p
}

func (p *Paymaster) OnSettleFailure(hook SettleFailureHook) *Paymaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleFailureHooks = append(p.settleFailureHooks, hook)
	return p
}

// ============================================================================
// Core Validate / Settle (routes on the mode byte)
// ============================================================================

// Validate decides whether a registered mode will fund the operation. The
// first byte of op.PaymasterData selects the mode. A ValidationResult with
// Accepted=false and a nil error is a soft deny: no state changed and the
// caller may probe another payment method.
func (p *Paymaster) Validate(ctx context.Context, op *UserOperation, maxCost *big.Int) (ValidationResult, error) {
	if len(op.PaymasterData) == 0 {
		return ValidationResult{}, fmt.Errorf("%w: empty paymaster data", ErrMalformedPayload)
	}
	mode := Mode(op.PaymasterData[0])

	handler := p.handler(mode)
	if handler == nil {
		return ValidationResult{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMode, byte(mode))
	}

	hctx := ValidateContext{
		Ctx:       ctx,
		Op:        op,
		Mode:      mode,
		MaxCost:   maxCost,
		Timestamp: time.Now(),
	}
	for _, hook := range p.beforeValidateHooks {
		result, err := hook(hctx)
		if err != nil {
			return ValidationResult{}, err
		}
		if result != nil && result.Abort {
			return ValidationResult{Accepted: false, DenyReason: result.Reason}, nil
		}
	}

	start := time.Now()
	result, err := handler.Validate(ctx, op, maxCost)
	elapsed := time.Since(start)

	if err != nil {
		for _, hook := range p.validateFailureHooks {
			hook(ValidateFailureContext{ValidateContext: hctx, Error: err, Duration: elapsed})
		}
		return result, err
	}

	for _, hook := range p.afterValidateHooks {
		if hookErr := hook(ValidateResultContext{ValidateContext: hctx, Result: result, Duration: elapsed}); hookErr != nil {
			p.logger.Warn("after-validate hook failed", "mode", mode.String(), "err", hookErr)
		}
	}
	return result, nil
}

// Settle reconciles an accepted operation against its real cost. The
// settlement context's first byte routes back to the mode that produced it.
// With a settlement cache wired, settling the same context again returns
// the cached result instead of charging twice.
func (p *Paymaster) Settle(ctx context.Context, postOp PostOpMode, contextBytes []byte, actualGasUsed uint64, actualGasPrice *big.Int) (SettleResult, error) {
	if len(contextBytes) == 0 {
		return SettleResult{}, fmt.Errorf("%w: empty settlement context", ErrMalformedPayload)
	}
	mode := Mode(contextBytes[0])

	handler := p.handler(mode)
	if handler == nil {
		return SettleResult{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMode, byte(mode))
	}

	if p.cache != nil {
		key := SettlementKey(contextBytes)
		status, cached, done := p.cache.CheckAndMark(key)
		switch status {
		case StatusCached:
			return *cached, nil
		case StatusInFlight:
			<-done
			if result, ok := p.cache.Get(key); ok {
				return *result, nil
			}
			return SettleResult{}, ErrContextConsumed
		}
		defer p.cache.Release(key)
	}

	hctx := SettleContext{
		Ctx:            ctx,
		Mode:           mode,
		PostOp:         postOp,
		ContextBytes:   contextBytes,
		ActualGasUsed:  actualGasUsed,
		ActualGasPrice: actualGasPrice,
		Timestamp:      time.Now(),
	}
	for _, hook := range p.beforeSettleHooks {
		result, err := hook(hctx)
		if err != nil {
			return SettleResult{}, err
		}
		if result != nil && result.Abort {
			return SettleResult{}, fmt.Errorf("settlement aborted: %s", result.Reason)
		}
	}

	start := time.Now()
	result, err := handler.Settle(ctx, postOp, contextBytes, actualGasUsed, actualGasPrice)
	elapsed := time.Since(start)

	if err != nil {
		for _, hook := range p.settleFailureHooks {
			hook(SettleFailureContext{SettleContext: hctx, Error: err, Duration: elapsed})
		}
		return result, err
	}

	if p.cache != nil {
		p.cache.Store(SettlementKey(contextBytes), &result)
	}

	for _, hook := range p.afterSettleHooks {
		if hookErr := hook(SettleResultContext{SettleContext: hctx, Result: result, Duration: elapsed}); hookErr != nil {
			p.logger.Warn("after-settle hook failed", "mode", mode.String(), "err", hookErr)
		}
	}
	return result, nil
}

// Modes returns the registered mode identifiers.
func (p *Paymaster) Modes() []Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	modes := make([]Mode, 0, len(p.handlers))
	for m := range p.handlers {
		modes = append(modes, m)
	}
	return modes
}

func (p *Paymaster) handler(mode Mode) ModeHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[mode]
}
