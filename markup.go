package paymaster

import "math/big"

// Fee markup bounds. A markup is a fixed-point ratio with denominator 1e6;
// 1e6 is cost passthrough, 2e6 doubles the charge.
const (
	MarkupDenominator uint32 = 1_000_000
	MinFeeMarkup      uint32 = 1_000_000
	MaxFeeMarkup      uint32 = 2_000_000
)

var markupDenom = big.NewInt(int64(MarkupDenominator))

// ValidMarkup reports whether m is inside the enforced [1e6, 2e6] range.
func ValidMarkup(m uint32) bool {
	return m >= MinFeeMarkup && m <= MaxFeeMarkup
}

// ApplyMarkup returns ceil(cost * markup / 1e6). Rounding is always up so
// the sponsor is never undercharged by truncation.
func ApplyMarkup(cost *big.Int, markup uint32) *big.Int {
	adjusted := new(big.Int).Mul(cost, big.NewInt(int64(markup)))
	adjusted.Add(adjusted, new(big.Int).Sub(markupDenom, big.NewInt(1)))
	return adjusted.Div(adjusted, markupDenom)
}

// MarkupPremium returns the surplus over the base cost produced by the
// markup, i.e. ApplyMarkup(cost, markup) - cost.
func MarkupPremium(cost *big.Int, markup uint32) *big.Int {
	return new(big.Int).Sub(ApplyMarkup(cost, markup), cost)
}
