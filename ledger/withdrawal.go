package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

// Withdrawal delay bounds. The cap prevents an administrative mistake from
// locking sponsor funds behind an unbounded delay.
const (
	DefaultWithdrawalDelay = time.Hour
	MaxWithdrawalDelay     = 24 * time.Hour
)

var (
	ErrZeroDestination = errors.New("ledger: withdrawal destination is zero")
	ErrNoRequest       = errors.New("ledger: no pending withdrawal request")
	ErrNotMatured      = errors.New("ledger: withdrawal has not matured")
	ErrNothingToDraw   = errors.New("ledger: clamped withdrawal amount is zero")
	ErrDelayTooLong    = errors.New("ledger: withdrawal delay exceeds maximum")
)

// WithdrawalRequest is the single outstanding request an account may hold.
// A new request overwrites the previous one; there is no queue.
type WithdrawalRequest struct {
	Amount      *big.Int
	Destination common.Address
	SubmittedAt time.Time
}

// RequestWithdrawal records a withdrawal request. Rejects a zero
// destination, a non-positive amount, and an amount exceeding the current
// balance; the balance may still shrink before execution, which clamps.
func (l *Ledger) RequestWithdrawal(account, destination common.Address, amount *big.Int) error {
	if destination == (common.Address{}) {
		return ErrZeroDestination
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	if bal := l.readBalance(account); bal.Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: requested %s, balance %s", ErrInsufficientBalance, amount, bal)
	}
	l.requests[account] = WithdrawalRequest{
		Amount:      new(big.Int).Set(amount),
		Destination: destination,
		SubmittedAt: l.clock.Now(),
	}
	l.mu.Unlock()

	l.recorder.Record(paymaster.NewEvent(paymaster.EventWithdrawalRequested, map[string]interface{}{
		"account":     account.Hex(),
		"destination": destination.Hex(),
		"amount":      amount.String(),
	}))
	return nil
}

// ExecuteWithdrawal completes a matured request. The withdrawn amount is
// clamped to the balance at execution time, not at request time: settlement
// debits may have shrunk it in between. On success the ledger is debited,
// the request cleared, and funds handed to the configured transfer.
func (l *Ledger) ExecuteWithdrawal(ctx context.Context, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	req, ok := l.requests[account]
	if !ok {
		l.mu.Unlock()
		return nil, ErrNoRequest
	}

	maturesAt := req.SubmittedAt.Add(l.delay)
	if l.clock.Now().Before(maturesAt) {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: matures at %s", ErrNotMatured, maturesAt.UTC().Format(time.RFC3339))
	}

	amount := new(big.Int).Set(req.Amount)
	if bal := l.readBalance(account); bal.Cmp(amount) < 0 {
		amount.Set(bal)
	}
	if amount.Sign() == 0 {
		l.mu.Unlock()
		return nil, ErrNothingToDraw
	}

	l.balances[account].Sub(l.balances[account], amount)
	delete(l.requests, account)
	l.mu.Unlock()

	if l.transfer != nil {
		if err := l.transfer(ctx, req.Destination, amount); err != nil {
			// Restore, the enclosing transaction is rolling back anyway.
			l.Credit(account, amount)
			return nil, fmt.Errorf("ledger: withdrawal transfer: %w", err)
		}
	}

	l.recorder.Record(paymaster.NewEvent(paymaster.EventWithdrawalExecuted, map[string]interface{}{
		"account":     account.Hex(),
		"destination": req.Destination.Hex(),
		"amount":      amount.String(),
	}))
	return amount, nil
}

// CancelWithdrawal clears any live request unconditionally.
func (l *Ledger) CancelWithdrawal(account common.Address) {
	l.mu.Lock()
	_, had := l.requests[account]
	delete(l.requests, account)
	l.mu.Unlock()

	if had {
		l.recorder.Record(paymaster.NewEvent(paymaster.EventWithdrawalCancelled, map[string]interface{}{
			"account": account.Hex(),
		}))
	}
}

// PendingWithdrawal returns the live request, if any.
func (l *Ledger) PendingWithdrawal(account common.Address) (WithdrawalRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	req, ok := l.requests[account]
	return req, ok
}

// SetWithdrawalDelay updates the maturation delay, bounded by
// MaxWithdrawalDelay.
func (l *Ledger) SetWithdrawalDelay(d time.Duration) error {
	if d < 0 || d > MaxWithdrawalDelay {
		return fmt.Errorf("%w: %s > %s", ErrDelayTooLong, d, MaxWithdrawalDelay)
	}
	l.mu.Lock()
	l.delay = d
	l.mu.Unlock()
	return nil
}

// WithdrawalDelay returns the current maturation delay.
func (l *Ledger) WithdrawalDelay() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.delay
}
