package paymaster

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation carries the fields of a sponsored operation the engine
// consumes. Gas limits for the paymaster's own validation and post-op work
// are owned by the execution environment and arrive here, not inside the
// authorization payload.
type UserOperation struct {
	Sender   common.Address
	Nonce    *big.Int
	InitCode []byte
	CallData []byte

	CallGasLimit         uint64
	VerificationGasLimit uint64
	PreVerificationGas   uint64

	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	PaymasterVerificationGasLimit uint64
	PaymasterPostOpGasLimit       uint64
	PaymasterData                 []byte

	Signature []byte
}

// AccountGasLimits packs verificationGasLimit and callGasLimit into a single
// 32-byte word (high and low 16 bytes respectively).
func (op *UserOperation) AccountGasLimits() [32]byte {
	return packPair(op.VerificationGasLimit, op.CallGasLimit)
}

// GasFees packs maxPriorityFeePerGas and maxFeePerGas into a single 32-byte
// word (high and low 16 bytes respectively).
func (op *UserOperation) GasFees() [32]byte {
	var out [32]byte
	if op.MaxPriorityFeePerGas != nil {
		op.MaxPriorityFeePerGas.FillBytes(out[:16])
	}
	if op.MaxFeePerGas != nil {
		op.MaxFeePerGas.FillBytes(out[16:])
	}
	return out
}

func packPair(high, low uint64) [32]byte {
	var out [32]byte
	new(big.Int).SetUint64(high).FillBytes(out[:16])
	new(big.Int).SetUint64(low).FillBytes(out[16:])
	return out
}

// SponsorshipHash is the canonical hash a sponsorship attestation signs.
// Every field that influences cost or authorization scope is covered so a
// signature cannot be replayed against a different operation, chain, or
// paymaster deployment.
func SponsorshipHash(
	op *UserOperation,
	chainID *big.Int,
	paymaster common.Address,
	sponsor common.Address,
	validUntil, validAfter uint64,
	feeMarkup uint32,
) common.Hash {
	buf := opHashPrefix(op, chainID, paymaster)
	buf = append(buf, common.LeftPadBytes(sponsor.Bytes(), 32)...)
	buf = append(buf, word(new(big.Int).SetUint64(validUntil))...)
	buf = append(buf, word(new(big.Int).SetUint64(validAfter))...)
	buf = append(buf, word(new(big.Int).SetUint64(uint64(feeMarkup)))...)
	return crypto.Keccak256Hash(buf)
}

// TokenQuoteHash is the canonical hash an external token quote signs. It
// binds the quote to the operation the same way SponsorshipHash does,
// covering the token, exchange rate and applied markup.
func TokenQuoteHash(
	op *UserOperation,
	chainID *big.Int,
	paymaster common.Address,
	token common.Address,
	exchangeRate *big.Int,
	appliedMarkup uint32,
	validUntil, validAfter uint64,
) common.Hash {
	buf := opHashPrefix(op, chainID, paymaster)
	buf = append(buf, common.LeftPadBytes(token.Bytes(), 32)...)
	buf = append(buf, word(exchangeRate)...)
	buf = append(buf, word(new(big.Int).SetUint64(uint64(appliedMarkup)))...)
	buf = append(buf, word(new(big.Int).SetUint64(validUntil))...)
	buf = append(buf, word(new(big.Int).SetUint64(validAfter))...)
	return crypto.Keccak256Hash(buf)
}

// opHashPrefix packs the operation fields shared by every attestation hash:
// sender, nonce, initCode and callData hashes, the packed gas limits and
// fees, and the chain and paymaster identity.
func opHashPrefix(op *UserOperation, chainID *big.Int, paymaster common.Address) []byte {
	accountGas := op.AccountGasLimits()
	gasFees := op.GasFees()

	buf := make([]byte, 0, 10*32)
	buf = append(buf, common.LeftPadBytes(op.Sender.Bytes(), 32)...)
	buf = append(buf, word(op.Nonce)...)
	buf = append(buf, crypto.Keccak256(op.InitCode)...)
	buf = append(buf, crypto.Keccak256(op.CallData)...)
	buf = append(buf, accountGas[:]...)
	buf = append(buf, word(new(big.Int).SetUint64(op.PaymasterVerificationGasLimit))...)
	buf = append(buf, word(new(big.Int).SetUint64(op.PreVerificationGas))...)
	buf = append(buf, gasFees[:]...)
	buf = append(buf, word(chainID)...)
	buf = append(buf, common.LeftPadBytes(paymaster.Bytes(), 32)...)
	return buf
}

func word(v *big.Int) []byte {
	var out [32]byte
	if v != nil {
		v.FillBytes(out[:])
	}
	return out[:]
}
