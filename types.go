package paymaster

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mode identifies which paymaster funding mode a user operation requests.
// The first byte of the paymaster data selects the mode; the remainder is
// the mode-specific authorization payload.
type Mode byte

const (
	// ModeSponsoring prepays gas from a sponsor's native-currency deposit,
	// precharging an estimate at validation and reconciling at settlement.
	ModeSponsoring Mode = 0x00

	// ModeToken charges gas cost in an ERC-20 token at settlement time,
	// priced by a signed quote or an on-chain oracle.
	ModeToken Mode = 0x01
)

func (m Mode) String() string {
	switch m {
	case ModeSponsoring:
		return "sponsoring"
	case ModeToken:
		return "token"
	default:
		return "unknown"
	}
}

// PostOpMode reports how the sponsored operation ended before settlement runs.
type PostOpMode uint8

const (
	// OpSucceeded means the sponsored operation completed.
	OpSucceeded PostOpMode = iota
	// OpReverted means the sponsored operation reverted. The fee is still
	// collected; only the operation's own effects were rolled back.
	OpReverted
)

// ValidationResult is the outcome of validating a paymaster request.
//
// Three outcomes are possible:
//   - accepted: Accepted is true and Context carries the settlement context
//   - soft deny: Accepted is false with a nil error (e.g. unregistered signer);
//     no balance was touched and the caller may probe another payment method
//   - hard rejection: a non-nil error from Validate; the whole operation aborts
type ValidationResult struct {
	Accepted   bool   `json:"accepted"`
	DenyReason string `json:"denyReason,omitempty"`

	// Context is the opaque settlement context, produced on acceptance and
	// consumed exactly once by Settle.
	Context []byte `json:"context,omitempty"`

	// ValidAfter and ValidUntil bound the authorization window in unix
	// seconds. The execution environment enforces them; the engine only
	// threads them through.
	ValidAfter uint64 `json:"validAfter,omitempty"`
	ValidUntil uint64 `json:"validUntil,omitempty"`
}

// SettleResult is the outcome of settling an accepted operation.
type SettleResult struct {
	// Charged is the total amount deducted from the sponsor for this
	// operation (sponsoring mode) or the native-denominated cost the token
	// charge was derived from (token mode).
	Charged *big.Int `json:"charged"`

	// Premium is the markup surplus credited to the fee collector.
	Premium *big.Int `json:"premium"`

	// Refunded is the portion of the precharge returned to the sponsor.
	// Zero when settlement debited further instead.
	Refunded *big.Int `json:"refunded,omitempty"`

	// Token and TokenAmount describe the ERC-20 charge in token mode.
	Token       common.Address `json:"token,omitempty"`
	TokenAmount *big.Int       `json:"tokenAmount,omitempty"`
}

// TokenConfig describes one supported fee token.
type TokenConfig struct {
	// FeeMarkup is the fixed-point markup (denominator 1e6) applied to the
	// native cost before conversion, used when the payload does not carry
	// its own signed markup.
	FeeMarkup uint32

	// Enabled gates the token without discarding its configuration.
	Enabled bool
}
