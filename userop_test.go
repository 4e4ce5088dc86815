package paymaster

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func baseOp() *UserOperation {
	return &UserOperation{
		Sender:                        common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
		Nonce:                         big.NewInt(7),
		CallData:                      []byte{0x01, 0x02},
		CallGasLimit:                  500_000,
		VerificationGasLimit:          150_000,
		PreVerificationGas:            50_000,
		MaxFeePerGas:                  big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas:          big.NewInt(1_000_000_000),
		PaymasterVerificationGasLimit: 60_000,
		PaymasterPostOpGasLimit:       40_000,
	}
}

func TestSponsorshipHashCoversCostFields(t *testing.T) {
	chainID := big.NewInt(1868)
	pm := common.HexToAddress("0x00000000000000fB866DaAA79352cC568a005D96")
	sponsor := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")

	base := SponsorshipHash(baseOp(), chainID, pm, sponsor, 100, 0, 1_100_000)

	mutations := map[string]func() common.Hash{
		"sender": func() common.Hash {
			op := baseOp()
			op.Sender = common.HexToAddress("0x1")
			return SponsorshipHash(op, chainID, pm, sponsor, 100, 0, 1_100_000)
		},
		"nonce": func() common.Hash {
			op := baseOp()
			op.Nonce = big.NewInt(8)
			return SponsorshipHash(op, chainID, pm, sponsor, 100, 0, 1_100_000)
		},
		"callData": func() common.Hash {
			op := baseOp()
			op.CallData = []byte{0x01, 0x03}
			return SponsorshipHash(op, chainID, pm, sponsor, 100, 0, 1_100_000)
		},
		"callGasLimit": func() common.Hash {
			op := baseOp()
			op.CallGasLimit++
			return SponsorshipHash(op, chainID, pm, sponsor, 100, 0, 1_100_000)
		},
		"maxFeePerGas": func() common.Hash {
			op := baseOp()
			op.MaxFeePerGas = big.NewInt(3_000_000_000)
			return SponsorshipHash(op, chainID, pm, sponsor, 100, 0, 1_100_000)
		},
		"chainID": func() common.Hash {
			return SponsorshipHash(baseOp(), big.NewInt(1), pm, sponsor, 100, 0, 1_100_000)
		},
		"paymaster": func() common.Hash {
			return SponsorshipHash(baseOp(), chainID, common.HexToAddress("0x2"), sponsor, 100, 0, 1_100_000)
		},
		"sponsor": func() common.Hash {
			return SponsorshipHash(baseOp(), chainID, pm, common.HexToAddress("0x3"), 100, 0, 1_100_000)
		},
		"validUntil": func() common.Hash {
			return SponsorshipHash(baseOp(), chainID, pm, sponsor, 101, 0, 1_100_000)
		},
		"feeMarkup": func() common.Hash {
			return SponsorshipHash(baseOp(), chainID, pm, sponsor, 100, 0, 1_100_001)
		},
	}

	for field, mutate := range mutations {
		assert.NotEqual(t, base, mutate(), "changing %s must change the hash", field)
	}

	// Fields outside the attestation scope must not affect it.
	op := baseOp()
	op.Signature = []byte{0xFF}
	assert.Equal(t, base, SponsorshipHash(op, chainID, pm, sponsor, 100, 0, 1_100_000))
}

func TestTokenQuoteHashCoversRate(t *testing.T) {
	chainID := big.NewInt(1868)
	pm := common.HexToAddress("0x00000000000000fB866DaAA79352cC568a005D96")
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	base := TokenQuoteHash(baseOp(), chainID, pm, token, big.NewInt(3_000_000), 1_200_000, 100, 0)

	assert.NotEqual(t, base,
		TokenQuoteHash(baseOp(), chainID, pm, token, big.NewInt(3_000_001), 1_200_000, 100, 0))
	assert.NotEqual(t, base,
		TokenQuoteHash(baseOp(), chainID, pm, token, big.NewInt(3_000_000), 1_200_001, 100, 0))
	assert.NotEqual(t, base,
		TokenQuoteHash(baseOp(), chainID, pm, common.HexToAddress("0x4"), big.NewInt(3_000_000), 1_200_000, 100, 0))

	// A sponsorship hash over the same operation must never collide with a
	// token quote hash.
	sp := SponsorshipHash(baseOp(), chainID, pm, common.Address(token), 100, 0, 1_200_000)
	assert.NotEqual(t, base, sp)
}

func TestGasFieldPacking(t *testing.T) {
	op := baseOp()

	accountGas := op.AccountGasLimits()
	assert.Equal(t, op.VerificationGasLimit, new(big.Int).SetBytes(accountGas[:16]).Uint64())
	assert.Equal(t, op.CallGasLimit, new(big.Int).SetBytes(accountGas[16:]).Uint64())

	fees := op.GasFees()
	assert.Equal(t, 0, op.MaxPriorityFeePerGas.Cmp(new(big.Int).SetBytes(fees[:16])))
	assert.Equal(t, 0, op.MaxFeePerGas.Cmp(new(big.Int).SetBytes(fees[16:])))
}
