package paymaster

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ModeHandler is implemented by each funding mode (sponsoring, token).
// Validate runs before the sponsored operation, Settle after it; the two
// calls share one opaque context produced by Validate and consumed exactly
// once by Settle. The execution environment guarantees Settle is invoked
// once per accepted validation, even when the operation itself reverts.
type ModeHandler interface {
	Mode() Mode

	// Validate decides whether this mode will fund the operation. maxCost
	// is the environment's estimated required pre-fund at the current max
	// fee per gas. Soft denials return Accepted=false with a nil error.
	Validate(ctx context.Context, op *UserOperation, maxCost *big.Int) (ValidationResult, error)

	// Settle reconciles the estimate against the real cost. actualGasUsed
	// and actualGasPrice describe the measured execution window; the mode
	// adds back its unaccounted overhead itself.
	Settle(ctx context.Context, mode PostOpMode, contextBytes []byte, actualGasUsed uint64, actualGasPrice *big.Int) (SettleResult, error)
}

// CodeChecker reports whether an address has deployed code. Used to keep
// contract addresses out of the signer registry and the fee-collector slot,
// where they could never produce a valid signature or receive funds safely.
type CodeChecker func(ctx context.Context, addr common.Address) (bool, error)

// FundsTransfer moves native currency out of the engine's custody, used by
// withdrawal execution. Implementations are external (an on-chain call, a
// treasury service); a returned error aborts the withdrawal atomically.
type FundsTransfer func(ctx context.Context, to common.Address, amount *big.Int) error

// TokenTransfer pulls amount of token from the payer into the treasury at
// settlement time. A failure here is fatal: the sponsored operation has
// already executed and cannot be undone.
type TokenTransfer func(ctx context.Context, token, from, to common.Address, amount *big.Int) error

// TokenBalance reads the payer's token balance, used as a soft guard at
// validation time. The real transfer still happens at settlement.
type TokenBalance func(ctx context.Context, token, addr common.Address) (*big.Int, error)
