package paymaster

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorstCasePenalty(t *testing.T) {
	op := &UserOperation{
		CallGasLimit:            900_000,
		PaymasterPostOpGasLimit: 100_000,
	}
	got := WorstCasePenalty(op, big.NewInt(2))
	// 10% of 1,000,000 gas at price 2.
	assert.Equal(t, int64(200_000), got.Int64())
}

func TestExpectedPenalty(t *testing.T) {
	tests := []struct {
		name          string
		execGasLimit  uint64
		preOpApprox   uint64
		actualGasUsed uint64
		gasPrice      int64
		want          int64
	}{
		{
			name:          "all headroom unused",
			execGasLimit:  1_000_000,
			preOpApprox:   100_000,
			actualGasUsed: 100_000,
			gasPrice:      1,
			want:          100_000,
		},
		{
			name:          "half headroom unused",
			execGasLimit:  1_000_000,
			preOpApprox:   100_000,
			actualGasUsed: 600_000,
			gasPrice:      1,
			want:          50_000,
		},
		{
			name:          "fully used",
			execGasLimit:  1_000_000,
			preOpApprox:   100_000,
			actualGasUsed: 1_100_000,
			gasPrice:      1,
			want:          0,
		},
		{
			name:          "used beyond limit",
			execGasLimit:  1_000_000,
			preOpApprox:   100_000,
			actualGasUsed: 2_000_000,
			gasPrice:      1,
			want:          0,
		},
		{
			name:          "usage below pre-op approximation",
			execGasLimit:  500_000,
			preOpApprox:   100_000,
			actualGasUsed: 50_000,
			gasPrice:      3,
			want:          150_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpectedPenalty(tt.execGasLimit, tt.preOpApprox, tt.actualGasUsed, big.NewInt(tt.gasPrice))
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

// The validation-time bound must dominate the settlement-time penalty for
// any actual usage, otherwise the precharge could come up short.
func TestWorstCaseDominatesExpected(t *testing.T) {
	op := &UserOperation{
		CallGasLimit:            750_000,
		PaymasterPostOpGasLimit: 50_000,
		VerificationGasLimit:    120_000,
		PreVerificationGas:      40_000,
	}
	price := big.NewInt(5)
	bound := WorstCasePenalty(op, price)
	preOp := PreOpGasApprox(op)

	for _, used := range []uint64{0, preOp, preOp + 1, 400_000, 800_000, 2_000_000} {
		actual := ExpectedPenalty(ExecutionGasLimit(op), preOp, used, price)
		assert.True(t, actual.Cmp(bound) <= 0, "used=%d actual=%s bound=%s", used, actual, bound)
	}
}

func TestCostWithUnaccounted(t *testing.T) {
	got := CostWithUnaccounted(1_000_000, 11_000, big.NewInt(1_000_000_000))
	want := new(big.Int).Mul(big.NewInt(1_011_000), big.NewInt(1_000_000_000))
	assert.Equal(t, 0, want.Cmp(got))
}
