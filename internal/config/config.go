// Package config loads server settings from the environment and an optional
// YAML network file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/celo-rps/internal/chain"
)

// Config is the fully resolved server configuration.
type Config struct {
	Addr      string
	LogLevel  zerolog.Level
	LogFormat string

	ChainEnabled    bool
	Network         chain.Network
	Networks        map[string]chain.Network
	PrivateKey      string
	KeyringService  string
	KeyringAccount  string
	KeyringFallback string
	ReceiptTimeout  time.Duration
	PollInterval    time.Duration

	DatabaseURL string

	NATSURL           string
	NATSSubjectPrefix string

	ThinkDelay  time.Duration
	SessionTTL  time.Duration
	AppURL      string
	CORSOrigins []string
}

// NetworksFile is the YAML layout of RPS_NETWORKS_FILE.
type NetworksFile struct {
	Default  string                   `yaml:"default"`
	Networks map[string]chain.Network `yaml:"networks"`
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	return FromEnv()
}

// FromEnv builds a Config from RPS_* variables.
func FromEnv() (*Config, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("RPS_LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("config: RPS_LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Addr:              getEnv("RPS_ADDR", ":8080"),
		LogLevel:          level,
		LogFormat:         getEnv("RPS_LOG_FORMAT", "json"),
		ChainEnabled:      getEnvAsBool("RPS_CHAIN_ENABLED", true),
		PrivateKey:        os.Getenv("RPS_PRIVATE_KEY"),
		KeyringService:    getEnv("RPS_KEYRING_SERVICE", "celo-rps"),
		KeyringAccount:    getEnv("RPS_KEYRING_ACCOUNT", "signer"),
		KeyringFallback:   os.Getenv("RPS_KEYRING_FALLBACK"),
		DatabaseURL:       getEnv("RPS_DATABASE_URL", "celo-rps.db"),
		NATSURL:           os.Getenv("RPS_NATS_URL"),
		NATSSubjectPrefix: getEnv("RPS_NATS_SUBJECT_PREFIX", "rps.events"),
		AppURL:            os.Getenv("RPS_APP_URL"),
		CORSOrigins:       splitList(getEnv("RPS_CORS_ORIGINS", "*")),
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"RPS_RECEIPT_TIMEOUT", 2 * time.Minute, &cfg.ReceiptTimeout},
		{"RPS_POLL_INTERVAL", time.Second, &cfg.PollInterval},
		{"RPS_THINK_DELAY", 500 * time.Millisecond, &cfg.ThinkDelay},
		{"RPS_SESSION_TTL", 30 * time.Minute, &cfg.SessionTTL},
	}
	for _, d := range durations {
		v, err := getEnvAsDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.Networks = chain.DefaultNetworks()
	defaultNetwork := "celo"
	if path := os.Getenv("RPS_NETWORKS_FILE"); path != "" {
		file, err := LoadNetworksFile(path)
		if err != nil {
			return nil, err
		}
		for name, n := range file.Networks {
			name = strings.ToLower(name)
			n.Name = name
			cfg.Networks[name] = n
		}
		if file.Default != "" {
			defaultNetwork = file.Default
		}
	}

	network, err := chain.LookupNetwork(cfg.Networks, getEnv("RPS_NETWORK", defaultNetwork))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if v := os.Getenv("RPS_RPC_URL"); v != "" {
		network.RPCURL = v
	}
	if v := os.Getenv("RPS_CONTRACT_ADDRESS"); v != "" {
		network.Contract = v
	}
	if cfg.ChainEnabled && network.Contract == "" {
		return nil, fmt.Errorf("config: network %q has no contract address; set RPS_CONTRACT_ADDRESS", network.Name)
	}
	cfg.Network = network

	return cfg, nil
}

// LoadNetworksFile parses a YAML network override file.
func LoadNetworksFile(path string) (*NetworksFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks file: %w", err)
	}
	var file NetworksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse networks file: %w", err)
	}
	return &file, nil
}

// SetupLogging configures the global zerolog logger.
func (c *Config) SetupLogging() {
	zerolog.SetGlobalLevel(c.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
