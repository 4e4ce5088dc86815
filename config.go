package paymaster

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xeipuuv/gojsonschema"
)

// Config assembles the engine's deployment parameters. Values come from the
// environment; the example binary loads a .env file first.
type Config struct {
	ChainID          int64
	PaymasterAddress common.Address
	FeeCollector     common.Address
	Treasury         common.Address

	MinDeposit      *big.Int
	WithdrawalDelay time.Duration
	UnaccountedGas  uint64

	ListenAddr string
}

// ConfigFromEnv reads configuration from the environment, applying defaults
// for anything unset. Malformed numeric values are an error rather than a
// silent default.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		ChainID:          1,
		MinDeposit:       new(big.Int),
		WithdrawalDelay:  time.Hour,
		UnaccountedGas:   DefaultUnaccountedGas,
		ListenAddr:       ":8402",
		PaymasterAddress: common.HexToAddress(os.Getenv("PAYMASTER_ADDRESS")),
		FeeCollector:     common.HexToAddress(os.Getenv("FEE_COLLECTOR")),
		Treasury:         common.HexToAddress(os.Getenv("TREASURY")),
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("MIN_DEPOSIT"); v != "" {
		min, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return Config{}, fmt.Errorf("config: MIN_DEPOSIT: invalid integer %q", v)
		}
		cfg.MinDeposit = min
	}
	if v := os.Getenv("WITHDRAWAL_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: WITHDRAWAL_DELAY: %w", err)
		}
		cfg.WithdrawalDelay = d
	}
	if v := os.Getenv("UNACCOUNTED_GAS"); v != "" {
		gas, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: UNACCOUNTED_GAS: %w", err)
		}
		cfg.UnaccountedGas = gas
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	return cfg, nil
}

// tokenConfigSchema validates token configuration documents before they are
// trusted. Markup bounds are re-checked at validation time; the schema
// catches structural mistakes early.
const tokenConfigSchema = `{
  "type": "object",
  "required": ["tokens"],
  "properties": {
    "tokens": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["address", "feeMarkup"],
        "properties": {
          "address": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
          "feeMarkup": {"type": "integer", "minimum": 1000000, "maximum": 2000000},
          "enabled": {"type": "boolean"},
          "oracle": {
            "type": "object",
            "required": ["maxRoundAgeSeconds", "assetDecimals"],
            "properties": {
              "maxRoundAgeSeconds": {"type": "integer", "minimum": 1},
              "assetDecimals": {"type": "integer", "minimum": 0, "maximum": 36}
            }
          }
        }
      }
    }
  }
}`

// TokenConfigEntry is one token from a configuration document.
type TokenConfigEntry struct {
	Address       common.Address
	FeeMarkup     uint32
	Enabled       bool
	MaxRoundAge   time.Duration
	AssetDecimals uint8
}

type tokenConfigDoc struct {
	Tokens []struct {
		Address   string `json:"address"`
		FeeMarkup uint32 `json:"feeMarkup"`
		Enabled   *bool  `json:"enabled"`
		Oracle    *struct {
			MaxRoundAgeSeconds int64 `json:"maxRoundAgeSeconds"`
			AssetDecimals      uint8 `json:"assetDecimals"`
		} `json:"oracle"`
	} `json:"tokens"`
}

// LoadTokenConfigs parses and schema-validates a token configuration
// document.
func LoadTokenConfigs(doc []byte) ([]TokenConfigEntry, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(tokenConfigSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("config: token schema: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("config: invalid token config: %v", result.Errors())
	}

	var parsed tokenConfigDoc
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("config: token config: %w", err)
	}

	entries := make([]TokenConfigEntry, 0, len(parsed.Tokens))
	for _, t := range parsed.Tokens {
		entry := TokenConfigEntry{
			Address:   common.HexToAddress(t.Address),
			FeeMarkup: t.FeeMarkup,
			Enabled:   t.Enabled == nil || *t.Enabled,
		}
		if t.Oracle != nil {
			entry.MaxRoundAge = time.Duration(t.Oracle.MaxRoundAgeSeconds) * time.Second
			entry.AssetDecimals = t.Oracle.AssetDecimals
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
