package paymaster

import (
	"context"
	"math/big"
	"time"
)

// ============================================================================
// Hook Context Types
// ============================================================================

// ValidateContext contains information passed to validate hooks.
type ValidateContext struct {
	Ctx       context.Context
	Op        *UserOperation
	Mode      Mode
	MaxCost   *big.Int
	Timestamp time.Time
}

// ValidateResultContext contains a validate result and its context.
type ValidateResultContext struct {
	ValidateContext
	Result   ValidationResult
	Duration time.Duration
}

// ValidateFailureContext contains a validate failure and its context.
type ValidateFailureContext struct {
	ValidateContext
	Error    error
	Duration time.Duration
}

// SettleContext contains information passed to settle hooks.
type SettleContext struct {
	Ctx            context.Context
	Mode           Mode
	PostOp         PostOpMode
	ContextBytes   []byte
	ActualGasUsed  uint64
	ActualGasPrice *big.Int
	Timestamp      time.Time
}

// SettleResultContext contains a settle result and its context.
type SettleResultContext struct {
	SettleContext
	Result   SettleResult
	Duration time.Duration
}

// SettleFailureContext contains a settle failure and its context.
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// BeforeHookResult is returned by "before" hooks. If Abort is true the
// operation is rejected with the given Reason before reaching the mode
// handler.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeValidateHook runs before validation. Returning a non-nil result
// with Abort set rejects the operation.
type BeforeValidateHook func(hctx ValidateContext) (*BeforeHookResult, error)

// AfterValidateHook observes validation results. Errors are logged, never
// propagated.
type AfterValidateHook func(hctx ValidateResultContext) error

// ValidateFailureHook observes hard validation failures.
type ValidateFailureHook func(hctx ValidateFailureContext)

// BeforeSettleHook runs before settlement. Aborting here is only safe for
// bookkeeping concerns; the sponsored operation has already executed.
type BeforeSettleHook func(hctx SettleContext) (*BeforeHookResult, error)

// AfterSettleHook observes settlement results. Errors are logged, never
// propagated.
type AfterSettleHook func(hctx SettleResultContext) error

// SettleFailureHook observes settlement failures. Settlement failures are
// never recoverable from a hook: a failed charge must surface to the caller.
type SettleFailureHook func(hctx SettleFailureContext)
