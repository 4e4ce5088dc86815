// Package oracle fetches and staleness-checks token price quotes for the
// independent token-quote mode. Only the oracle's contract is modeled here
// (a price, a timestamp, a round identifier); implementations are external.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

// Round is one oracle observation.
type Round struct {
	// Price is the asset price in the oracle's own decimals. Must be
	// positive to be usable.
	Price *big.Int

	// UpdatedAt is when the oracle last refreshed this round.
	UpdatedAt time.Time

	// RoundID increases monotonically across valid rounds. A regression
	// indicates a stale or rolled-back feed.
	RoundID uint64
}

// Source is the price feed contract consumed by the helper.
type Source interface {
	LatestRound(ctx context.Context) (Round, error)
}

// Config describes one oracle attachment.
type Config struct {
	Source Source

	// MaxRoundAge bounds how old an accepted round may be.
	MaxRoundAge time.Duration

	// AssetDecimals is the oracle price's decimal scale, used by callers
	// when converting native cost into token amounts.
	AssetDecimals uint8
}

// Helper validates rounds from a Source, tracking the last accepted round
// id to catch regressions.
type Helper struct {
	mu        sync.Mutex
	lastRound map[Source]uint64
	clock     clockwork.Clock
}

// Option configures a Helper.
type Option func(*Helper)

// WithClock injects the clock used for age checks.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Helper) { h.clock = clock }
}

// NewHelper creates a Helper.
func NewHelper(opts ...Option) *Helper {
	h := &Helper{
		lastRound: make(map[Source]uint64),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FetchPrice returns the latest validated price from cfg.Source. It rejects
// non-positive prices, rounds older than MaxRoundAge, and round ids that
// regressed relative to the last accepted fetch.
func (h *Helper) FetchPrice(ctx context.Context, cfg Config) (*big.Int, error) {
	round, err := cfg.Source.LatestRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: latest round: %w", err)
	}

	if round.Price == nil || round.Price.Sign() <= 0 {
		return nil, paymaster.ErrPriceInvalid
	}

	age := h.clock.Now().Sub(round.UpdatedAt)
	if age > cfg.MaxRoundAge {
		return nil, fmt.Errorf("%w: round age %s exceeds %s", paymaster.ErrPriceStale, age, cfg.MaxRoundAge)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastRound[cfg.Source]; ok && round.RoundID < last {
		return nil, fmt.Errorf("%w: round %d after %d", paymaster.ErrRoundRegression, round.RoundID, last)
	}
	h.lastRound[cfg.Source] = round.RoundID

	return new(big.Int).Set(round.Price), nil
}
