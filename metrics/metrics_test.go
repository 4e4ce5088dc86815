package metrics

import (
	"context"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

type stubMode struct {
	validateRes paymaster.ValidationResult
	validateErr error
	settleRes   paymaster.SettleResult
	settleErr   error
}

func (stubMode) Mode() paymaster.Mode { return paymaster.ModeSponsoring }

func (s stubMode) Validate(context.Context, *paymaster.UserOperation, *big.Int) (paymaster.ValidationResult, error) {
	return s.validateRes, s.validateErr
}

func (s stubMode) Settle(context.Context, paymaster.PostOpMode, []byte, uint64, *big.Int) (paymaster.SettleResult, error) {
	return s.settleRes, s.settleErr
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	engine := paymaster.New().Register(stubMode{
		validateRes: paymaster.ValidationResult{Accepted: true},
		settleRes:   paymaster.SettleResult{Charged: big.NewInt(100), Premium: big.NewInt(25)},
	})
	m.Instrument(engine)

	op := &paymaster.UserOperation{PaymasterData: []byte{byte(paymaster.ModeSponsoring)}}
	_, err := engine.Validate(context.Background(), op, big.NewInt(1))
	require.NoError(t, err)
	_, err = engine.Settle(context.Background(), paymaster.OpSucceeded, []byte{byte(paymaster.ModeSponsoring)}, 1, big.NewInt(1))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Validations.WithLabelValues("sponsoring", "accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Settlements.WithLabelValues("sponsoring", "settled")))
	assert.Equal(t, float64(25), testutil.ToFloat64(m.PremiumsCollected))
}

func TestInstrumentCountsDeniesAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	engine := paymaster.New().Register(stubMode{
		validateRes: paymaster.ValidationResult{DenyReason: "unknown signer"},
		settleErr:   paymaster.ErrPriceStale,
	})
	m.Instrument(engine)

	op := &paymaster.UserOperation{PaymasterData: []byte{byte(paymaster.ModeSponsoring)}}
	_, err := engine.Validate(context.Background(), op, big.NewInt(1))
	require.NoError(t, err)
	_, err = engine.Settle(context.Background(), paymaster.OpSucceeded, []byte{byte(paymaster.ModeSponsoring)}, 1, big.NewInt(1))
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Validations.WithLabelValues("sponsoring", "denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Settlements.WithLabelValues("sponsoring", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OracleRejections))
}

func TestInstrumentCountsHardRejections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	engine := paymaster.New().Register(stubMode{validateErr: paymaster.ErrMarkupOutOfRange})
	m.Instrument(engine)

	op := &paymaster.UserOperation{PaymasterData: []byte{byte(paymaster.ModeSponsoring)}}
	_, err := engine.Validate(context.Background(), op, big.NewInt(1))
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Validations.WithLabelValues("sponsoring", "rejected")))
}
