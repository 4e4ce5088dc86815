package paymaster

import "math/big"

// ExecutionGasLimit is the gas-limit headroom the penalty is computed over:
// the execution budget plus the paymaster's post-op budget.
func ExecutionGasLimit(op *UserOperation) uint64 {
	return op.CallGasLimit + op.PaymasterPostOpGasLimit
}

// PreOpGasApprox approximates the gas spent before execution starts. It is
// recorded in the settlement context so the settlement leg can attribute
// actual usage between the pre-op and execution windows.
func PreOpGasApprox(op *UserOperation) uint64 {
	return op.PreVerificationGas + op.VerificationGasLimit + op.PaymasterVerificationGasLimit
}

// WorstCasePenalty bounds the penalty at validation time: PenaltyPercent of
// the whole execution gas-limit headroom at the declared max fee, assuming
// none of it is used. Guarantees the precharge covers adversarial gas
// griefing.
func WorstCasePenalty(op *UserOperation, gasPrice *big.Int) *big.Int {
	penaltyGas := ExecutionGasLimit(op) * PenaltyPercent / 100
	return new(big.Int).Mul(new(big.Int).SetUint64(penaltyGas), gasPrice)
}

// ExpectedPenalty computes the settlement-time penalty: PenaltyPercent of
// the unused execution gas-limit headroom at the actual gas price. Must
// stay symmetric with WorstCasePenalty or the two legs diverge and the
// sponsor is over- or under-charged.
func ExpectedPenalty(executionGasLimit, preOpGasApprox, actualGasUsed uint64, gasPrice *big.Int) *big.Int {
	executionGasUsed := uint64(0)
	if actualGasUsed > preOpGasApprox {
		executionGasUsed = actualGasUsed - preOpGasApprox
	}
	if executionGasUsed >= executionGasLimit {
		return new(big.Int)
	}
	penaltyGas := (executionGasLimit - executionGasUsed) * PenaltyPercent / 100
	return new(big.Int).Mul(new(big.Int).SetUint64(penaltyGas), gasPrice)
}

// CostWithUnaccounted returns (gasUsed + unaccountedGas) * gasPrice, the
// real cost with the fixed overhead outside the measured window added back.
func CostWithUnaccounted(gasUsed, unaccountedGas uint64, gasPrice *big.Int) *big.Int {
	total := new(big.Int).SetUint64(gasUsed + unaccountedGas)
	return total.Mul(total, gasPrice)
}
