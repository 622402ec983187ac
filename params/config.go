package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Exchange holds the matching parameters fixed at genesis.
type Exchange struct {
	PriceScale          uint64
	TakerFeeBps         uint64
	ProtocolFeeShareBps uint64
	FeeRecipient        common.Address
}

type Node struct {
	ChainID uint64
	// Admin may register tokens, run the faucet and set the pool fee recipient.
	Admin    common.Address
	DataDir  string
	APIAddr  string
	LogFile  string
	LogLevel string
	// BlockInterval paces the sequencer. Empty blocks are not produced.
	BlockInterval time.Duration
	MaxTxBytes    int
	CORSOrigins   []string
}

type Config struct {
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			PriceScale:  10_000_000_000,
			TakerFeeBps: 20,
		},
		Node: Node{
			ChainID:       31337,
			DataDir:       "data",
			APIAddr:       ":8080",
			LogFile:       "data/node.log",
			LogLevel:      "info",
			BlockInterval: 200 * time.Millisecond,
			MaxTxBytes:    1 << 20,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// Validate rejects parameter combinations the engine cannot run with.
func (c Config) Validate() error {
	if c.Exchange.PriceScale == 0 {
		return fmt.Errorf("price scale must be positive")
	}
	if c.Exchange.TakerFeeBps >= 10_000 {
		return fmt.Errorf("taker fee %d bps out of range", c.Exchange.TakerFeeBps)
	}
	if c.Exchange.ProtocolFeeShareBps > 10_000 {
		return fmt.Errorf("protocol fee share %d bps out of range", c.Exchange.ProtocolFeeShareBps)
	}
	if c.Exchange.ProtocolFeeShareBps > 0 && c.Exchange.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("protocol fee share set without fee recipient")
	}
	if c.Node.BlockInterval <= 0 {
		return fmt.Errorf("block interval must be positive")
	}
	if c.Node.MaxTxBytes <= 0 {
		return fmt.Errorf("max tx bytes must be positive")
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v, ok := envUint("PRICE_SCALE"); ok {
		cfg.Exchange.PriceScale = v
	}
	if v, ok := envUint("TAKER_FEE_BPS"); ok {
		cfg.Exchange.TakerFeeBps = v
	}
	if v, ok := envUint("PROTOCOL_FEE_SHARE_BPS"); ok {
		cfg.Exchange.ProtocolFeeShareBps = v
	}
	if v := os.Getenv("FEE_RECIPIENT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeRecipient = common.HexToAddress(v)
	}
	if v, ok := envUint("CHAIN_ID"); ok {
		cfg.Node.ChainID = v
	}
	if v := os.Getenv("ADMIN_ADDRESS"); common.IsHexAddress(v) {
		cfg.Node.Admin = common.HexToAddress(v)
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v, ok := envUint("BLOCK_INTERVAL_MS"); ok {
		cfg.Node.BlockInterval = time.Duration(v) * time.Millisecond
	}
	if v, ok := envUint("MAX_TX_BYTES"); ok {
		cfg.Node.MaxTxBytes = int(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = strings.Split(v, ",")
	}

	return cfg
}

// Load layers, lowest first: defaults, the .env file, a config file, STAKEDEX_*
// environment variables and command-line flags. Flag names double as keys
// (`taker-fee-bps` reads STAKEDEX_TAKER_FEE_BPS).
func Load(envPath, cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	def := Default()
	v := viper.New()
	v.SetEnvPrefix("STAKEDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("price-scale", def.Exchange.PriceScale)
	v.SetDefault("taker-fee-bps", def.Exchange.TakerFeeBps)
	v.SetDefault("protocol-fee-share-bps", def.Exchange.ProtocolFeeShareBps)
	v.SetDefault("fee-recipient", "")
	v.SetDefault("chain-id", def.Node.ChainID)
	v.SetDefault("admin", "")
	v.SetDefault("data-dir", def.Node.DataDir)
	v.SetDefault("api-addr", def.Node.APIAddr)
	v.SetDefault("log-file", def.Node.LogFile)
	v.SetDefault("log-level", def.Node.LogLevel)
	v.SetDefault("block-interval", def.Node.BlockInterval)
	v.SetDefault("max-tx-bytes", def.Node.MaxTxBytes)
	v.SetDefault("cors-origins", def.Node.CORSOrigins)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Exchange: Exchange{
			PriceScale:          v.GetUint64("price-scale"),
			TakerFeeBps:         v.GetUint64("taker-fee-bps"),
			ProtocolFeeShareBps: v.GetUint64("protocol-fee-share-bps"),
		},
		Node: Node{
			ChainID:       v.GetUint64("chain-id"),
			DataDir:       v.GetString("data-dir"),
			APIAddr:       v.GetString("api-addr"),
			LogFile:       v.GetString("log-file"),
			LogLevel:      v.GetString("log-level"),
			BlockInterval: v.GetDuration("block-interval"),
			MaxTxBytes:    v.GetInt("max-tx-bytes"),
			CORSOrigins:   v.GetStringSlice("cors-origins"),
		},
	}
	var err error
	if cfg.Exchange.FeeRecipient, err = optionalAddress("fee-recipient", v.GetString("fee-recipient")); err != nil {
		return Config{}, err
	}
	if cfg.Node.Admin, err = optionalAddress("admin", v.GetString("admin")); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func optionalAddress(key, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, s)
	}
	return common.HexToAddress(s), nil
}

func envUint(key string) (uint64, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
