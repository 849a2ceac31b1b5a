package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the overall configuration for the application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Chains     []ChainNode      `yaml:"chains"`
	PriceFeeds PriceFeedsConfig `yaml:"priceFeeds"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	StatsCache StatsCacheConfig `yaml:"statsCache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
	IdleTimeout  int    `yaml:"idleTimeout"`
	RateLimit    int    `yaml:"rateLimit"`
	RateBurst    int    `yaml:"rateBurst"`
}

// BridgeNode configures one fixed-rate 1:1 mint/burn bridge contract.
type BridgeNode struct {
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol"`
}

// ChainNode holds the configuration for one supported chain: RPC endpoint,
// indexer endpoints, and the known-contract sets that seed price resolution.
type ChainNode struct {
	ChainID            int64        `yaml:"chainID"`
	Name               string       `yaml:"name"`
	RPCURL             string       `yaml:"rpcURL"`
	RPCTimeoutMs       int64        `yaml:"rpcTimeoutMs"`
	IndexerPrimaryURL  string       `yaml:"indexerPrimaryURL"`
	IndexerFallbackURL string       `yaml:"indexerFallbackURL"`
	BTCPeggedTokens    []string     `yaml:"btcPeggedTokens"`
	Stablecoins        []string     `yaml:"stablecoins"`
	StableUnit         string       `yaml:"stableUnit"`
	EquityToken        string       `yaml:"equityToken"`
	Bridges            []BridgeNode `yaml:"bridges"`
}

// PriceFeedsConfig holds the two BTC spot-price feed endpoints.
type PriceFeedsConfig struct {
	PrimaryURL            string `yaml:"primaryURL"`
	FallbackURL           string `yaml:"fallbackURL"`
	RequestTimeoutMillis  int64  `yaml:"requestTimeoutMillis"`
	SpotCacheTTLSeconds   int    `yaml:"spotCacheTTLSeconds"`
	MarketCacheTTLSeconds int    `yaml:"marketCacheTTLSeconds"`
}

// IndexerConfig holds query-client behavior shared by all chains.
type IndexerConfig struct {
	RequestTimeoutMillis int64 `yaml:"requestTimeoutMillis"`
	MaxRetries           int   `yaml:"maxRetries"`
	RetryDelayMs         int64 `yaml:"retryDelayMs"`
	FailoverCooldownSec  int   `yaml:"failoverCooldownSec"`
}

// StatsCacheConfig holds the orchestrator cache behavior.
type StatsCacheConfig struct {
	TTLSeconds         int     `yaml:"ttlSeconds"`
	RefreshMarginSec   int     `yaml:"refreshMarginSec"`
	RefreshChains      []int64 `yaml:"refreshChains"`
	YearlyVolumeTTLMin int     `yaml:"yearlyVolumeTTLMinutes"`
}

// LoggingConfig holds the configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // e.g., "debug", "info", "warn", "error"
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logrus.Errorf("Failed to unmarshal config data from %s: %v", path, err)
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	applyDefaults(&cfg)

	for _, chain := range cfg.Chains {
		if chain.RPCURL == "" {
			return nil, fmt.Errorf("chain %d (%s) is missing rpcURL", chain.ChainID, chain.Name)
		}
		if chain.IndexerPrimaryURL == "" {
			return nil, fmt.Errorf("chain %d (%s) is missing indexerPrimaryURL", chain.ChainID, chain.Name)
		}
		if chain.StableUnit == "" {
			logrus.Warnf("Chain %d (%s) has no stableUnit configured; generation-B TVL will be zero.", chain.ChainID, chain.Name)
		}
		if len(chain.BTCPeggedTokens) == 0 && len(chain.Stablecoins) == 0 {
			logrus.Warnf("Chain %d (%s) has no known-price contracts configured; no prices can be derived.", chain.ChainID, chain.Name)
		}
	}

	logrus.Info("Configuration loaded successfully.")
	return &cfg, nil
}

// Chain returns the configuration node for chainID, if present.
func (c *Config) Chain(chainID int64) (ChainNode, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain, true
		}
	}
	return ChainNode{}, false
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 50
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 100
	}
	if cfg.PriceFeeds.RequestTimeoutMillis == 0 {
		cfg.PriceFeeds.RequestTimeoutMillis = 5000
		logrus.Infof("priceFeeds.requestTimeoutMillis not set, defaulting to %d ms", cfg.PriceFeeds.RequestTimeoutMillis)
	}
	if cfg.PriceFeeds.SpotCacheTTLSeconds == 0 {
		cfg.PriceFeeds.SpotCacheTTLSeconds = 60
	}
	if cfg.PriceFeeds.MarketCacheTTLSeconds == 0 {
		cfg.PriceFeeds.MarketCacheTTLSeconds = 300
	}
	if cfg.Indexer.RequestTimeoutMillis == 0 {
		cfg.Indexer.RequestTimeoutMillis = 10000
		logrus.Infof("indexer.requestTimeoutMillis not set, defaulting to %d ms", cfg.Indexer.RequestTimeoutMillis)
	}
	if cfg.Indexer.MaxRetries == 0 {
		cfg.Indexer.MaxRetries = 3
	}
	if cfg.Indexer.RetryDelayMs == 0 {
		cfg.Indexer.RetryDelayMs = 500
	}
	if cfg.Indexer.FailoverCooldownSec == 0 {
		cfg.Indexer.FailoverCooldownSec = 120
	}
	if cfg.StatsCache.TTLSeconds == 0 {
		cfg.StatsCache.TTLSeconds = 60
		logrus.Infof("statsCache.ttlSeconds not set, defaulting to %d", cfg.StatsCache.TTLSeconds)
	}
	if cfg.StatsCache.RefreshMarginSec == 0 {
		cfg.StatsCache.RefreshMarginSec = 5
	}
	if cfg.StatsCache.YearlyVolumeTTLMin == 0 {
		cfg.StatsCache.YearlyVolumeTTLMin = 15
	}
	for i := range cfg.Chains {
		if cfg.Chains[i].RPCTimeoutMs == 0 {
			cfg.Chains[i].RPCTimeoutMs = 10000
		}
	}
}
