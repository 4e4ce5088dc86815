// Package ledger tracks per-sponsor prepaid gas balances and their delayed
// two-phase withdrawals. Balances exist implicitly: an account never
// deposited into reads as zero.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

var (
	ErrZeroAmount          = errors.New("ledger: amount must be positive")
	ErrBelowMinDeposit     = errors.New("ledger: first deposit below minimum")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// Ledger is the balance map plus withdrawal state for every sponsor
// account. All mutations are read-modify-write atomic under one lock; the
// surrounding transaction model provides the rest of the isolation.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	requests map[common.Address]WithdrawalRequest

	minDeposit *big.Int
	delay      time.Duration

	clock    clockwork.Clock
	transfer paymaster.FundsTransfer
	recorder paymaster.Recorder
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMinDeposit sets the floor applied to an account's first deposit.
func WithMinDeposit(min *big.Int) Option {
	return func(l *Ledger) { l.minDeposit = new(big.Int).Set(min) }
}

// WithWithdrawalDelay sets the maturation delay for withdrawals. Values
// above MaxWithdrawalDelay are rejected by SetWithdrawalDelay; the
// constructor clamps silently to keep wiring simple.
func WithWithdrawalDelay(d time.Duration) Option {
	return func(l *Ledger) {
		if d > MaxWithdrawalDelay {
			d = MaxWithdrawalDelay
		}
		l.delay = d
	}
}

// WithClock injects the clock used for withdrawal maturation. Defaults to
// the real clock; tests use clockwork.NewFakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithFundsTransfer wires the outbound transfer used by withdrawal
// execution.
func WithFundsTransfer(transfer paymaster.FundsTransfer) Option {
	return func(l *Ledger) { l.transfer = transfer }
}

// WithRecorder wires the audit event sink.
func WithRecorder(rec paymaster.Recorder) Option {
	return func(l *Ledger) { l.recorder = rec }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		balances:   make(map[common.Address]*big.Int),
		requests:   make(map[common.Address]WithdrawalRequest),
		minDeposit: new(big.Int),
		delay:      DefaultWithdrawalDelay,
		clock:      clockwork.NewRealClock(),
		recorder:   paymaster.NopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns a copy of the account's balance; unknown accounts read
// as zero.
func (l *Ledger) Balance(account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Deposit adds funds to an account. A zero or negative amount is rejected,
// and the first deposit into an empty account must meet the configured
// minimum.
func (l *Ledger) Deposit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	bal, ok := l.balances[account]
	if (!ok || bal.Sign() == 0) && amount.Cmp(l.minDeposit) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s < %s", ErrBelowMinDeposit, amount, l.minDeposit)
	}
	if !ok {
		bal = new(big.Int)
		l.balances[account] = bal
	}
	bal.Add(bal, amount)
	l.mu.Unlock()

	l.recorder.Record(paymaster.NewEvent(paymaster.EventDeposited, map[string]interface{}{
		"account": account.Hex(),
		"amount":  amount.String(),
	}))
	return nil
}

// Debit removes funds. Debiting past the balance is a hard error and
// leaves the balance untouched; callers compute bounds before debiting.
func (l *Ledger) Debit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[account]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s, need %s", ErrInsufficientBalance, account.Hex(), l.readBalance(account), amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// Credit adds funds without the deposit-time policy checks. Used for
// settlement refunds and premium payouts.
func (l *Ledger) Credit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[account]
	if !ok {
		bal = new(big.Int)
		l.balances[account] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// SetMinDeposit updates the first-deposit floor.
func (l *Ledger) SetMinDeposit(min *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minDeposit = new(big.Int).Set(min)
}

// MinDeposit returns the current first-deposit floor.
func (l *Ledger) MinDeposit() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.minDeposit)
}

// readBalance returns the balance under an already-held lock.
func (l *Ledger) readBalance(account common.Address) *big.Int {
	if bal, ok := l.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}
