package paymaster

import (
	"errors"
	"fmt"
)

// Sentinel errors, grouped by the failure taxonomy the engine exposes.
// Soft denials never surface as errors; everything below aborts the
// surrounding operation.
var (
	// Malformed input, rejected before any mutation.
	ErrMalformedPayload = errors.New("malformed paymaster data")
	ErrUnknownMode      = errors.New("unknown paymaster mode")

	// Policy violations.
	ErrMarkupOutOfRange = errors.New("fee markup out of range")
	ErrPostOpGasTooLow  = errors.New("post-op gas limit below unaccounted gas")
	ErrUnsupportedToken = errors.New("unsupported fee token")

	// Resource exhaustion.
	ErrInsufficientBalance = errors.New("insufficient sponsor balance")

	// Oracle failures, possible at either phase.
	ErrPriceStale      = errors.New("oracle price is stale")
	ErrPriceInvalid    = errors.New("oracle price is not positive")
	ErrRoundRegression = errors.New("oracle round regressed")
	ErrZeroRate        = errors.New("exchange rate must not be zero")

	// Settlement-time charge failure. The sponsored operation has already
	// executed, so this is fatal and non-retryable; callers must surface it
	// for off-chain remediation.
	ErrChargeFailed = errors.New("token charge failed after execution")

	// Settlement context misuse.
	ErrContextConsumed = errors.New("settlement context already consumed")
)

// PaymasterError is the API-boundary error shape, carrying a stable code
// alongside the human-readable message.
type PaymasterError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymasterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes.
const (
	ErrCodeMalformedPayload  = "malformed_payload"
	ErrCodeMarkupOutOfRange  = "markup_out_of_range"
	ErrCodePostOpGasTooLow   = "postop_gas_too_low"
	ErrCodeUnsupportedToken  = "unsupported_token"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodePriceStale        = "price_stale"
	ErrCodeChargeFailed      = "charge_failed"
	ErrCodeInternal          = "internal_error"
)

// NewPaymasterError creates a new paymaster error.
func NewPaymasterError(code, message string, details map[string]interface{}) *PaymasterError {
	return &PaymasterError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode maps an engine error to its API error code. Unknown errors map
// to ErrCodeInternal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrUnknownMode):
		return ErrCodeMalformedPayload
	case errors.Is(err, ErrMarkupOutOfRange):
		return ErrCodeMarkupOutOfRange
	case errors.Is(err, ErrPostOpGasTooLow):
		return ErrCodePostOpGasTooLow
	case errors.Is(err, ErrUnsupportedToken):
		return ErrCodeUnsupportedToken
	case errors.Is(err, ErrInsufficientBalance):
		return ErrCodeInsufficientFunds
	case errors.Is(err, ErrPriceStale), errors.Is(err, ErrPriceInvalid), errors.Is(err, ErrRoundRegression), errors.Is(err, ErrZeroRate):
		return ErrCodePriceStale
	case errors.Is(err, ErrChargeFailed):
		return ErrCodeChargeFailed
	default:
		return ErrCodeInternal
	}
}
