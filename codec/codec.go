// Package codec parses and encodes the fixed-layout authorization payloads
// carried in paymaster data. All multi-byte fields are big-endian with no
// padding. The byte offsets live in one schema table here; call sites only
// see typed fields.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Decode errors.
var (
	ErrTruncated       = errors.New("codec: payload truncated")
	ErrSignatureLength = errors.New("codec: signature must be 64 or 65 bytes")
	ErrTrailingBytes   = errors.New("codec: unexpected trailing bytes")
	ErrUnknownQuote    = errors.New("codec: unknown token quote mode")
)

// Sponsorship payload layout:
//
//	sponsor:20 | validUntil:6 | validAfter:6 | feeMarkup:4 | signature:64|65
const (
	sponsorOffset    = 0
	validUntilOffset = 20
	validAfterOffset = 26
	feeMarkupOffset  = 32
	sponsorshipFixed = 36
)

// Token payload layout. The first byte selects the quote mode:
//
//	external:    0x00 | validUntil:6 | validAfter:6 | token:20 | exchangeRate:32 | appliedMarkup:4 | signature:64|65
//	independent: 0x01 | token:20
const (
	tokenQuoteExternal    = 0x00
	tokenQuoteIndependent = 0x01

	extValidUntilOffset = 1
	extValidAfterOffset = 7
	extTokenOffset      = 13
	extRateOffset       = 33
	extMarkupOffset     = 65
	tokenExternalFixed  = 69

	tokenIndependentLen = 21
)

// SponsorshipData is the decoded sponsorship authorization.
type SponsorshipData struct {
	Sponsor    common.Address
	ValidUntil uint64 // 48-bit unix seconds
	ValidAfter uint64 // 48-bit unix seconds
	FeeMarkup  uint32
	Signature  []byte
}

// TokenQuoteMode selects how the token exchange rate is sourced.
type TokenQuoteMode byte

const (
	// QuoteExternal trusts a rate signed off-chain by a registered signer.
	QuoteExternal TokenQuoteMode = tokenQuoteExternal
	// QuoteIndependent sources the rate from an on-chain oracle at
	// settlement; no external signature is needed.
	QuoteIndependent TokenQuoteMode = tokenQuoteIndependent
)

// TokenData is the decoded token-mode authorization.
type TokenData struct {
	QuoteMode TokenQuoteMode
	Token     common.Address

	// External-quote fields; zero-valued in independent mode.
	ValidUntil    uint64
	ValidAfter    uint64
	ExchangeRate  *big.Int
	AppliedMarkup uint32
	Signature     []byte
}

// DecodeSponsorship parses a sponsorship authorization payload.
func DecodeSponsorship(data []byte) (*SponsorshipData, error) {
	if len(data) < sponsorshipFixed {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, sponsorshipFixed, len(data))
	}
	sig := data[sponsorshipFixed:]
	if err := checkSignatureLength(sig); err != nil {
		return nil, err
	}

	d := &SponsorshipData{
		Sponsor:    common.BytesToAddress(data[sponsorOffset : sponsorOffset+20]),
		ValidUntil: uint48(data[validUntilOffset:]),
		ValidAfter: uint48(data[validAfterOffset:]),
		FeeMarkup:  binary.BigEndian.Uint32(data[feeMarkupOffset : feeMarkupOffset+4]),
		Signature:  append([]byte(nil), sig...),
	}
	return d, nil
}

// EncodeSponsorship is the exact inverse of DecodeSponsorship.
func EncodeSponsorship(d *SponsorshipData) ([]byte, error) {
	if err := checkSignatureLength(d.Signature); err != nil {
		return nil, err
	}
	out := make([]byte, sponsorshipFixed, sponsorshipFixed+len(d.Signature))
	copy(out[sponsorOffset:], d.Sponsor.Bytes())
	putUint48(out[validUntilOffset:], d.ValidUntil)
	putUint48(out[validAfterOffset:], d.ValidAfter)
	binary.BigEndian.PutUint32(out[feeMarkupOffset:], d.FeeMarkup)
	return append(out, d.Signature...), nil
}

// DecodeToken parses a token-mode authorization payload.
func DecodeToken(data []byte) (*TokenData, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty token payload", ErrTruncated)
	}
	switch data[0] {
	case tokenQuoteExternal:
		if len(data) < tokenExternalFixed {
			return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, tokenExternalFixed, len(data))
		}
		sig := data[tokenExternalFixed:]
		if err := checkSignatureLength(sig); err != nil {
			return nil, err
		}
		return &TokenData{
			QuoteMode:     QuoteExternal,
			ValidUntil:    uint48(data[extValidUntilOffset:]),
			ValidAfter:    uint48(data[extValidAfterOffset:]),
			Token:         common.BytesToAddress(data[extTokenOffset : extTokenOffset+20]),
			ExchangeRate:  new(big.Int).SetBytes(data[extRateOffset : extRateOffset+32]),
			AppliedMarkup: binary.BigEndian.Uint32(data[extMarkupOffset : extMarkupOffset+4]),
			Signature:     append([]byte(nil), sig...),
		}, nil

	case tokenQuoteIndependent:
		if len(data) < tokenIndependentLen {
			return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, tokenIndependentLen, len(data))
		}
		if len(data) > tokenIndependentLen {
			return nil, fmt.Errorf("%w: %d bytes past token address", ErrTrailingBytes, len(data)-tokenIndependentLen)
		}
		return &TokenData{
			QuoteMode: QuoteIndependent,
			Token:     common.BytesToAddress(data[1:tokenIndependentLen]),
		}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownQuote, data[0])
	}
}

// EncodeToken is the exact inverse of DecodeToken.
func EncodeToken(d *TokenData) ([]byte, error) {
	switch d.QuoteMode {
	case QuoteExternal:
		if err := checkSignatureLength(d.Signature); err != nil {
			return nil, err
		}
		out := make([]byte, tokenExternalFixed, tokenExternalFixed+len(d.Signature))
		out[0] = tokenQuoteExternal
		putUint48(out[extValidUntilOffset:], d.ValidUntil)
		putUint48(out[extValidAfterOffset:], d.ValidAfter)
		copy(out[extTokenOffset:], d.Token.Bytes())
		d.ExchangeRate.FillBytes(out[extRateOffset : extRateOffset+32])
		binary.BigEndian.PutUint32(out[extMarkupOffset:], d.AppliedMarkup)
		return append(out, d.Signature...), nil

	case QuoteIndependent:
		out := make([]byte, tokenIndependentLen)
		out[0] = tokenQuoteIndependent
		copy(out[1:], d.Token.Bytes())
		return out, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownQuote, byte(d.QuoteMode))
	}
}

func checkSignatureLength(sig []byte) error {
	if len(sig) != 64 && len(sig) != 65 {
		return fmt.Errorf("%w: got %d", ErrSignatureLength, len(sig))
	}
	return nil
}

// uint48 reads a big-endian 6-byte unsigned integer. The caller guarantees
// at least 6 bytes.
func uint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}
