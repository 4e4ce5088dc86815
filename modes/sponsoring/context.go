package sponsoring

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
//	mode:1 | sponsor:20 | feeMarkup:4 | precharged:32 | preOpGasApprox:8 | executionGasLimit:8
const contextLen = 1 + 20 + 4 + 32 + 8 + 8

type settlementContext struct {
	Sponsor           common.Address
	FeeMarkup         uint32
	Precharged        *big.Int
	PreOpGasApprox    uint64
	ExecutionGasLimit uint64
}

func (c *settlementContext) encode() []byte {
	out := make([]byte, contextLen)
	out[0] = byte(paymaster.ModeSponsoring)
	copy(out[1:21], c.Sponsor.Bytes())
	binary.BigEndian.PutUint32(out[21:25], c.FeeMarkup)
	c.Precharged.FillBytes(out[25:57])
	binary.BigEndian.PutUint64(out[57:65], c.PreOpGasApprox)
	binary.BigEndian.PutUint64(out[65:73], c.ExecutionGasLimit)
	return out
}

func decodeContext(data []byte) (*settlementContext, error) {
	if len(data) != contextLen {
		return nil, fmt.Errorf("%w: sponsoring context must be %d bytes, got %d", paymaster.ErrMalformedPayload, contextLen, len(data))
	}
	if paymaster.Mode(data[0]) != paymaster.ModeSponsoring {
		return nil, fmt.Errorf("%w: context mode 0x%02x", paymaster.ErrMalformedPayload, data[0])
	}
	return &settlementContext{
		Sponsor:           common.BytesToAddress(data[1:21]),
		FeeMarkup:         binary.BigEndian.Uint32(data[21:25]),
		Precharged:        new(big.Int).SetBytes(data[25:57]),
		PreOpGasApprox:    binary.BigEndian.Uint64(data[57:65]),
		ExecutionGasLimit: binary.BigEndian.Uint64(data[65:73]),
	}, nil
}
