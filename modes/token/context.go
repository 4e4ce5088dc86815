package token

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
)

// settlementContext is threaded from Validate to Settle for one operation.
// Layout, big-endian:
//
//	mode:1 | payer:20 | token:20 | exchangeRate:32 | feeMarkup:4 | rateFixed:1 | preOpGasApprox:8 | executionGasLimit:8
const contextLen = 1 + 20 + 20 + 32 + 4 + 1 + 8 + 8

type settlementContext struct {
	Payer     common.Address
	Token     common.Address
	FeeMarkup uint32

	// ExchangeRate is the rate fixed at validation time. Zero with
	// RateFixed false means settlement fetches a fresh oracle quote.
	ExchangeRate *big.Int
	RateFixed    bool

	PreOpGasApprox    uint64
	ExecutionGasLimit uint64
}

func (c *settlementContext) encode() []byte {
	out := make([]byte, contextLen)
	out[0] = byte(paymaster.ModeToken)
	copy(out[1:21], c.Payer.Bytes())
	copy(out[21:41], c.Token.Bytes())
	c.ExchangeRate.FillBytes(out[41:73])
	binary.BigEndian.PutUint32(out[73:77], c.FeeMarkup)
	if c.RateFixed {
		out[77] = 1
	}
	binary.BigEndian.PutUint64(out[78:86], c.PreOpGasApprox)
	binary.BigEndian.PutUint64(out[86:94], c.ExecutionGasLimit)
	return out
}

func decodeContext(data []byte) (*settlementContext, error) {
	if len(data) != contextLen {
		return nil, fmt.Errorf("%w: token context must be %d bytes, got %d", paymaster.ErrMalformedPayload, contextLen, len(data))
	}
	if paymaster.Mode(data[0]) != paymaster.ModeToken {
		return nil, fmt.Errorf("%w: context mode 0x%02x", paymaster.ErrMalformedPayload, data[0])
	}
	return &settlementContext{
		Payer:             common.BytesToAddress(data[1:21]),
		Token:             common.BytesToAddress(data[21:41]),
		ExchangeRate:      new(big.Int).SetBytes(data[41:73]),
		FeeMarkup:         binary.BigEndian.Uint32(data[73:77]),
		RateFixed:         data[77] == 1,
		PreOpGasApprox:    binary.BigEndian.Uint64(data[78:86]),
		ExecutionGasLimit: binary.BigEndian.Uint64(data[86:94]),
	}, nil
}
