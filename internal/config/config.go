package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	DataPath    string
	PostgresDSN string

	AdminAPIKey string

	RelayerPrivateKeyHex string
	RelayerKeyID         string
	ControllerTagKeyHex  string

	ChainID                 int64
	LedgerContractAddress   string
	LedgerMinFee            string
	LedgerAnchorFee         string
	LedgerReserveBps        int
	LedgerReserveAddress    string
	LedgerTreasuryAddress   string
	ReceiptDefaultRecipient string
	ReceiptTransfersEnabled bool
	EnterpriseAddresses     string

	KeyDirectoryFile string
	PolicyBundlePath string
	PolicyEnabled    bool

	AnchorMaxAttempts      int
	AnchorInitialBackoffMS int
	AnchorMaxBackoffMS     int
	ConfirmationTimeoutMS  int
	NodeMaxInFlight        int
	MaxClockSkewSeconds    int
	StatusCacheSize        int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

var defaults = map[string]any{
	"HTTP_ADDR":                 ":8080",
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
	"DATA_PATH":                 "./data",
	"POSTGRES_DSN":              "",
	"ADMIN_API_KEY":             "",
	"RELAYER_PRIVATE_KEY_HEX":   "",
	"RELAYER_KEY_ID":            "relayer",
	"CONTROLLER_TAG_KEY_HEX":    "",
	"CHAIN_ID":                  31337,
	"LEDGER_CONTRACT_ADDRESS":   "0x0000000000000000000000000000000000000000",
	"LEDGER_MIN_FEE":            "0",
	"LEDGER_ANCHOR_FEE":         "0",
	"LEDGER_RESERVE_BPS":        0,
	"LEDGER_RESERVE_ADDRESS":    "",
	"LEDGER_TREASURY_ADDRESS":   "",
	"RECEIPT_DEFAULT_RECIPIENT": "",
	"RECEIPT_TRANSFERS_ENABLED": false,
	"ENTERPRISE_ADDRESSES":      "",
	"KEY_DIRECTORY_FILE":        "",
	"POLICY_BUNDLE_PATH":        "",
	"POLICY_ENABLED":            true,
	"ANCHOR_MAX_ATTEMPTS":       5,
	"ANCHOR_INITIAL_BACKOFF_MS": 200,
	"ANCHOR_MAX_BACKOFF_MS":     5000,
	"CONFIRMATION_TIMEOUT_MS":   30000,
	"NODE_MAX_IN_FLIGHT":        64,
	"MAX_CLOCK_SKEW_SECONDS":    300,
	"STATUS_CACHE_SIZE":         10000,
	"RATE_LIMIT_REQUESTS":       0,
	"RATE_LIMIT_WINDOW_SECONDS": 60,
	"RATE_LIMIT_FAIL_CLOSED":    false,
	"RATE_LIMIT_MAX_KEYS":       10000,
	"REDIS_ADDR":                "",
	"REDIS_PASSWORD":            "",
	"REDIS_DB":                  0,
}

// New returns a viper instance that reads every key from the environment,
// falling back to the defaults above.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads the optional config file set on v and builds a Config. Config
// file keys use the same names as the environment, in any case.
func Load(v *viper.Viper) (Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg := Config{
		HTTPAddr:                v.GetString("HTTP_ADDR"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
		DataPath:                v.GetString("DATA_PATH"),
		PostgresDSN:             v.GetString("POSTGRES_DSN"),
		AdminAPIKey:             v.GetString("ADMIN_API_KEY"),
		RelayerPrivateKeyHex:    v.GetString("RELAYER_PRIVATE_KEY_HEX"),
		RelayerKeyID:            v.GetString("RELAYER_KEY_ID"),
		ControllerTagKeyHex:     v.GetString("CONTROLLER_TAG_KEY_HEX"),
		ChainID:                 v.GetInt64("CHAIN_ID"),
		LedgerContractAddress:   v.GetString("LEDGER_CONTRACT_ADDRESS"),
		LedgerMinFee:            v.GetString("LEDGER_MIN_FEE"),
		LedgerAnchorFee:         v.GetString("LEDGER_ANCHOR_FEE"),
		LedgerReserveBps:        v.GetInt("LEDGER_RESERVE_BPS"),
		LedgerReserveAddress:    v.GetString("LEDGER_RESERVE_ADDRESS"),
		LedgerTreasuryAddress:   v.GetString("LEDGER_TREASURY_ADDRESS"),
		ReceiptDefaultRecipient: v.GetString("RECEIPT_DEFAULT_RECIPIENT"),
		ReceiptTransfersEnabled: v.GetBool("RECEIPT_TRANSFERS_ENABLED"),
		EnterpriseAddresses:     v.GetString("ENTERPRISE_ADDRESSES"),
		KeyDirectoryFile:        v.GetString("KEY_DIRECTORY_FILE"),
		PolicyBundlePath:        v.GetString("POLICY_BUNDLE_PATH"),
		PolicyEnabled:           v.GetBool("POLICY_ENABLED"),
		AnchorMaxAttempts:       v.GetInt("ANCHOR_MAX_ATTEMPTS"),
		AnchorInitialBackoffMS:  v.GetInt("ANCHOR_INITIAL_BACKOFF_MS"),
		AnchorMaxBackoffMS:      v.GetInt("ANCHOR_MAX_BACKOFF_MS"),
		ConfirmationTimeoutMS:   v.GetInt("CONFIRMATION_TIMEOUT_MS"),
		NodeMaxInFlight:         v.GetInt("NODE_MAX_IN_FLIGHT"),
		MaxClockSkewSeconds:     v.GetInt("MAX_CLOCK_SKEW_SECONDS"),
		StatusCacheSize:         v.GetInt("STATUS_CACHE_SIZE"),
		RateLimitRequests:       v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindowSeconds:  v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		RateLimitFailClosed:     v.GetBool("RATE_LIMIT_FAIL_CLOSED"),
		RateLimitMaxKeys:        v.GetInt("RATE_LIMIT_MAX_KEYS"),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
	}
	return cfg, nil
}

func FromEnv() (Config, error) {
	return Load(New())
}

// Validate checks the values the relayer cannot start without and the ones
// that must parse.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RelayerPrivateKeyHex) == "" {
		errs = append(errs, errors.New("RELAYER_PRIVATE_KEY_HEX is required"))
	}
	if strings.TrimSpace(c.ControllerTagKeyHex) == "" {
		errs = append(errs, errors.New("CONTROLLER_TAG_KEY_HEX is required"))
	}
	if c.ChainID <= 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	if c.LedgerReserveBps < 0 || c.LedgerReserveBps > 10000 {
		errs = append(errs, errors.New("LEDGER_RESERVE_BPS must be within 0..10000"))
	}
	if _, err := c.MinFee(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.AnchorFee(); err != nil {
		errs = append(errs, err)
	}
	for _, pair := range []struct{ key, value string }{
		{"LEDGER_CONTRACT_ADDRESS", c.LedgerContractAddress},
		{"LEDGER_RESERVE_ADDRESS", c.LedgerReserveAddress},
		{"LEDGER_TREASURY_ADDRESS", c.LedgerTreasuryAddress},
		{"RECEIPT_DEFAULT_RECIPIENT", c.ReceiptDefaultRecipient},
	} {
		if pair.value != "" && !common.IsHexAddress(pair.value) {
			errs = append(errs, fmt.Errorf("%s is not a valid address", pair.key))
		}
	}
	if c.LedgerReserveBps > 0 && c.LedgerReserveAddress == "" {
		errs = append(errs, errors.New("LEDGER_RESERVE_ADDRESS is required when LEDGER_RESERVE_BPS is set"))
	}
	if _, err := c.EnterpriseAddressMap(); err != nil {
		errs = append(errs, err)
	}
	if c.AnchorMaxAttempts <= 0 {
		errs = append(errs, errors.New("ANCHOR_MAX_ATTEMPTS must be positive"))
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindowSeconds <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW_SECONDS must be positive"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not json or text", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) MinFee() (*big.Int, error) {
	return parseAmount("LEDGER_MIN_FEE", c.LedgerMinFee)
}

func (c Config) AnchorFee() (*big.Int, error) {
	return parseAmount("LEDGER_ANCHOR_FEE", c.LedgerAnchorFee)
}

// EnterpriseAddressMap parses ENTERPRISE_ADDRESSES, a comma separated list
// of enterpriseId=0xaddress pairs.
func (c Config) EnterpriseAddressMap() (map[string]common.Address, error) {
	out := make(map[string]common.Address)
	for _, entry := range strings.Split(c.EnterpriseAddresses, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, addr, ok := strings.Cut(entry, "=")
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if !ok || id == "" || !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("ENTERPRISE_ADDRESSES entry %q is not enterpriseId=0xaddress", entry)
		}
		out[id] = common.HexToAddress(addr)
	}
	return out, nil
}

func (c Config) AnchorInitialBackoff() time.Duration {
	return time.Duration(c.AnchorInitialBackoffMS) * time.Millisecond
}

func (c Config) AnchorMaxBackoff() time.Duration {
	return time.Duration(c.AnchorMaxBackoffMS) * time.Millisecond
}

func (c Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutMS) * time.Millisecond
}

func (c Config) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func parseAmount(key, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return amount, nil
}
