// Package registry maintains the set of addresses authorized to sign
// sponsorship and token-quote attestations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

var (
	ErrZeroAddress     = errors.New("registry: zero address cannot sign")
	ErrContractAddress = errors.New("registry: contract address cannot sign")
)

// Registry is an "any one of N" membership set. Membership lookup is on the
// hot validation path; add/remove are administrative.
type Registry struct {
	mu      sync.RWMutex
	signers map[common.Address]bool

	codeChecker paymaster.CodeChecker
	recorder    paymaster.Recorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithCodeChecker wires the contract-address guard for AddSigner. Without
// one, only the zero-address check applies.
func WithCodeChecker(checker paymaster.CodeChecker) Option {
	return func(r *Registry) { r.codeChecker = checker }
}

// WithRecorder wires the audit event sink.
func WithRecorder(rec paymaster.Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		signers:  make(map[common.Address]bool),
		recorder: paymaster.NopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsSigner reports membership. The zero address is never a member, so an
// address recovered from a malformed signature always fails this check.
func (r *Registry) IsSigner(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signers[addr]
}

// AddSigner registers an address. Rejects the zero address and, when a code
// checker is wired, addresses with deployed code: a contract can never
// produce an ECDSA signature, so registering one would strand its role.
func (r *Registry) AddSigner(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	if r.codeChecker != nil {
		hasCode, err := r.codeChecker(ctx, addr)
		if err != nil {
			return fmt.Errorf("registry: code check: %w", err)
		}
		if hasCode {
			return fmt.Errorf("%w: %s", ErrContractAddress, addr.Hex())
		}
	}

	r.mu.Lock()
	r.signers[addr] = true
	r.mu.Unlock()

	r.recorder.Record(paymaster.NewEvent(paymaster.EventSignerAdded, map[string]interface{}{
		"signer": addr.Hex(),
	}))
	return nil
}

// RemoveSigner deregisters an address. Removing a non-member is a no-op.
func (r *Registry) RemoveSigner(addr common.Address) {
	r.mu.Lock()
	delete(r.signers, addr)
	r.mu.Unlock()

	r.recorder.Record(paymaster.NewEvent(paymaster.EventSignerRemoved, map[string]interface{}{
		"signer": addr.Hex(),
	}))
}

// Signers returns the current members.
func (r *Registry) Signers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.signers))
	for addr := range r.signers {
		out = append(out, addr)
	}
	return out
}

// RecoverSigner recovers the address that signed hash. Accepts 65-byte
// signatures (v in {0, 1, 27, 28}) and 64-byte EIP-2098 compact signatures.
// Any malformed or unverifiable signature recovers to the zero address,
// which is never registered, so callers need no separate validity check.
func RecoverSigner(hash common.Hash, sig []byte) common.Address {
	normalized := make([]byte, 65)
	switch len(sig) {
	case 65:
		copy(normalized, sig)
		if normalized[64] >= 27 {
			normalized[64] -= 27
		}
	case 64:
		// EIP-2098: yParity is the top bit of s.
		copy(normalized, sig)
		normalized[64] = normalized[32] >> 7
		normalized[32] &= 0x7f
	default:
		return common.Address{}
	}
	if normalized[64] > 1 {
		return common.Address{}
	}

	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(*pub)
}
