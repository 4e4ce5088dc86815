package paymaster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Gas accounting bounds. UnaccountedGas covers work outside the measured
// cost window (calldata handling, the settlement call itself) and is added
// back on both legs; the cap keeps an administrative mistake from inflating
// every charge.
const (
	DefaultUnaccountedGas uint64 = 50_000
	MaxUnaccountedGas     uint64 = 200_000

	// PenaltyPercent is the share of unused gas-limit headroom charged to
	// the sponsor, discouraging operations that reserve far more gas than
	// they use.
	PenaltyPercent uint64 = 10
)

var (
	ErrZeroFeeCollector     = errors.New("paymaster: fee collector is zero")
	ErrContractFeeCollector = errors.New("paymaster: fee collector is a contract")
	ErrUnaccountedGasBound  = errors.New("paymaster: unaccounted gas exceeds maximum")
)

// Params holds the administrable engine parameters shared by every mode:
// the fee collector receiving markup premiums and the unaccounted-gas
// constant both legs of the accounting assume.
type Params struct {
	mu             sync.RWMutex
	feeCollector   common.Address
	unaccountedGas uint64

	codeChecker CodeChecker
	recorder    Recorder
}

// ParamsOption configures Params.
type ParamsOption func(*Params)

// WithCodeChecker wires the contract-address guard for SetFeeCollector.
func WithCodeChecker(checker CodeChecker) ParamsOption {
	return func(p *Params) { p.codeChecker = checker }
}

// WithRecorder wires the audit event sink.
func WithRecorder(rec Recorder) ParamsOption {
	return func(p *Params) { p.recorder = rec }
}

// NewParams creates engine parameters with the default unaccounted gas.
// The fee collector must be set before premiums can be credited.
func NewParams(feeCollector common.Address, opts ...ParamsOption) *Params {
	p := &Params{
		feeCollector:   feeCollector,
		unaccountedGas: DefaultUnaccountedGas,
		recorder:       NopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FeeCollector returns the current fee collector.
func (p *Params) FeeCollector() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feeCollector
}

// SetFeeCollector updates the fee collector. Rejects the zero address and,
// when a code checker is wired, contract addresses.
func (p *Params) SetFeeCollector(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return ErrZeroFeeCollector
	}
	if p.codeChecker != nil {
		hasCode, err := p.codeChecker(ctx, addr)
		if err != nil {
			return fmt.Errorf("paymaster: code check: %w", err)
		}
		if hasCode {
			return fmt.Errorf("%w: %s", ErrContractFeeCollector, addr.Hex())
		}
	}

	p.mu.Lock()
	old := p.feeCollector
	p.feeCollector = addr
	p.mu.Unlock()

	p.recorder.Record(NewEvent(EventFeeCollectorChanged, map[string]interface{}{
		"previous": old.Hex(),
		"current":  addr.Hex(),
	}))
	return nil
}

// UnaccountedGas returns the current unaccounted-gas constant.
func (p *Params) UnaccountedGas() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unaccountedGas
}

// SetUnaccountedGas updates the unaccounted-gas constant, bounded by
// MaxUnaccountedGas.
func (p *Params) SetUnaccountedGas(gas uint64) error {
	if gas > MaxUnaccountedGas {
		return fmt.Errorf("%w: %d > %d", ErrUnaccountedGasBound, gas, MaxUnaccountedGas)
	}
	p.mu.Lock()
	p.unaccountedGas = gas
	p.mu.Unlock()
	return nil
}
