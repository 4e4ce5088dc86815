package codec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSponsorshipRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data SponsorshipData
	}{
		{
			name: "65-byte signature",
			data: SponsorshipData{
				Sponsor:    common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
				ValidUntil: 1_900_000_000,
				ValidAfter: 1_700_000_000,
				FeeMarkup:  1_100_000,
				Signature:  make([]byte, 65),
			},
		},
		{
			name: "64-byte compact signature",
			data: SponsorshipData{
				Sponsor:    common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
				ValidUntil: 0xFFFFFFFFFFFF, // max uint48
				ValidAfter: 0,
				FeeMarkup:  2_000_000,
				Signature:  make([]byte, 64),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeSponsorship(&tt.data)
			require.NoError(t, err)

			decoded, err := DecodeSponsorship(encoded)
			require.NoError(t, err)
			assert.Equal(t, &tt.data, decoded)
		})
	}
}

func TestDecodeSponsorshipRejects(t *testing.T) {
	valid, err := EncodeSponsorship(&SponsorshipData{
		Sponsor:   common.HexToAddress("0x1"),
		FeeMarkup: 1_000_000,
		Signature: make([]byte, 65),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"truncated fixed fields", valid[:20], ErrTruncated},
		{"missing signature", valid[:36], ErrSignatureLength},
		{"signature too short", valid[:36+63], ErrSignatureLength},
		{"signature too long", append(append([]byte(nil), valid...), 0x00), ErrSignatureLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSponsorship(tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data TokenData
	}{
		{
			name: "external quote",
			data: TokenData{
				QuoteMode:     QuoteExternal,
				ValidUntil:    1_900_000_000,
				ValidAfter:    1_800_000_000,
				Token:         common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
				ExchangeRate:  big.NewInt(3_250_000_000),
				AppliedMarkup: 1_250_000,
				Signature:     make([]byte, 65),
			},
		},
		{
			name: "independent quote",
			data: TokenData{
				QuoteMode: QuoteIndependent,
				Token:     common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeToken(&tt.data)
			require.NoError(t, err)

			decoded, err := DecodeToken(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.data.QuoteMode, decoded.QuoteMode)
			assert.Equal(t, tt.data.Token, decoded.Token)
			if tt.data.QuoteMode == QuoteExternal {
				assert.Equal(t, 0, tt.data.ExchangeRate.Cmp(decoded.ExchangeRate))
				assert.Equal(t, tt.data.AppliedMarkup, decoded.AppliedMarkup)
				assert.Equal(t, tt.data.Signature, decoded.Signature)
			}
		})
	}
}

func TestDecodeTokenRejects(t *testing.T) {
	independent, err := EncodeToken(&TokenData{
		QuoteMode: QuoteIndependent,
		Token:     common.HexToAddress("0x1"),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"unknown quote mode", []byte{0xFF}, ErrUnknownQuote},
		{"external truncated", []byte{0x00, 0x01, 0x02}, ErrTruncated},
		{"independent truncated", independent[:10], ErrTruncated},
		{"independent trailing bytes", append(append([]byte(nil), independent...), 0xAA), ErrTrailingBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeToken(tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
