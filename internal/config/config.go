package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/cfssl/log"
)

const (
	// DirEnv overrides the config directory.
	DirEnv = "W3SALE_CONFIG_DIR"

	LedgerLocal = "local"
	LedgerEVM   = "evm"

	StrategyFastest  = "fastest"
	StrategyFailover = "failover"

	defaultListenAddr   = ":8080"
	defaultLogLevel     = "warning"
	defaultInterval     = 5
	defaultSignatureTTL = 300

	configFile  = "config.json"
	walletsFile = "wallets.json"
	dataFile    = "sale.db"
)

// Timeouts used when dispatching through an EVM node.
const (
	ReceiptPollInterval = 2 * time.Second
	TxConfirmTimeout    = 3 * time.Minute
)

// ErrUnknownKey is returned by Get and Set for keys that do not exist.
var ErrUnknownKey = errors.New("config: unknown key")

// Config holds all w3sale configuration.
type Config struct {
	DataFile       string `json:"data_file"`
	Ledger         string `json:"ledger"`            // "local" | "evm"
	RPCURL         string `json:"rpc_url,omitempty"` // comma-separated
	RPCStrategy    string `json:"rpc_strategy"`      // "fastest" | "failover"
	ChainID        int64  `json:"chain_id,omitempty"`
	OperatorWallet string `json:"operator_wallet,omitempty"`
	ListenAddr     string `json:"listen_addr"`
	LogLevel       string `json:"log_level"`      // debug | info | warning | error
	WatchInterval  int    `json:"watch_interval"` // seconds
	SignatureTTL   int    `json:"signature_ttl"`  // seconds

	// internal: config dir path used for Save()
	configDir string
}

// ResolveDir returns dir, or the directory named by DirEnv, or ~/.w3sale.
func ResolveDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	if env := os.Getenv(DirEnv); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home dir: %w", err)
	}
	return filepath.Join(home, ".w3sale"), nil
}

// Load reads config from dir (or creates defaults). See ResolveDir for how an
// empty dir is resolved.
func Load(dir string) (*Config, error) {
	dir, err := ResolveDir(dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create config dir: %w", err)
	}

	cfg := defaults(dir)

	path := filepath.Join(dir, configFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.configDir = dir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.configDir, configFile), data, 0o600)
}

// Validate checks the values that other packages rely on.
func (c *Config) Validate() error {
	switch c.Ledger {
	case LedgerLocal:
	case LedgerEVM:
		if c.RPCURL == "" {
			return fmt.Errorf("config: ledger %q requires rpc_url", LedgerEVM)
		}
	default:
		return fmt.Errorf("config: ledger must be %q or %q, got %q", LedgerLocal, LedgerEVM, c.Ledger)
	}
	if c.RPCStrategy != StrategyFastest && c.RPCStrategy != StrategyFailover {
		return fmt.Errorf("config: rpc_strategy must be %q or %q, got %q", StrategyFastest, StrategyFailover, c.RPCStrategy)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("config: watch_interval must be positive")
	}
	if c.SignatureTTL <= 0 {
		return fmt.Errorf("config: signature_ttl must be positive")
	}
	return nil
}

// Dir returns the config directory.
func (c *Config) Dir() string {
	return c.configDir
}

// DataPath returns the bbolt database path, relative paths being taken from
// the config directory.
func (c *Config) DataPath() string {
	if filepath.IsAbs(c.DataFile) {
		return c.DataFile
	}
	return filepath.Join(c.configDir, c.DataFile)
}

// RPCURLs splits rpc_url into its endpoints.
func (c *Config) RPCURLs() []string {
	var out []string
	for _, u := range strings.Split(c.RPCURL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// WalletsPath returns the wallets.json path.
func (c *Config) WalletsPath() string {
	return filepath.Join(c.configDir, walletsFile)
}

// Watch returns the dashboard refresh interval.
func (c *Config) Watch() time.Duration {
	return time.Duration(c.WatchInterval) * time.Second
}

// SignatureWindow returns how long a signed API request stays valid.
func (c *Config) SignatureWindow() time.Duration {
	return time.Duration(c.SignatureTTL) * time.Second
}

// --- key access for `config list|set` ---

type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

var fields = map[string]field{
	"data_file": {
		get: func(c *Config) string { return c.DataFile },
		set: func(c *Config, v string) error { c.DataFile = v; return nil },
	},
	"ledger": {
		get: func(c *Config) string { return c.Ledger },
		set: func(c *Config, v string) error { c.Ledger = strings.ToLower(v); return nil },
	},
	"rpc_url": {
		get: func(c *Config) string { return c.RPCURL },
		set: func(c *Config, v string) error { c.RPCURL = v; return nil },
	},
	"chain_id": {
		get: func(c *Config) string { return strconv.FormatInt(c.ChainID, 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("chain_id must be a non-negative integer")
			}
			c.ChainID = n
			return nil
		},
	},
	"rpc_strategy": {
		get: func(c *Config) string { return c.RPCStrategy },
		set: func(c *Config, v string) error { c.RPCStrategy = strings.ToLower(v); return nil },
	},
	"operator_wallet": {
		get: func(c *Config) string { return c.OperatorWallet },
		set: func(c *Config, v string) error { c.OperatorWallet = v; return nil },
	},
	"listen_addr": {
		get: func(c *Config) string { return c.ListenAddr },
		set: func(c *Config, v string) error { c.ListenAddr = v; return nil },
	},
	"log_level": {
		get: func(c *Config) string { return c.LogLevel },
		set: func(c *Config, v string) error {
			if _, err := ParseLogLevel(v); err != nil {
				return err
			}
			c.LogLevel = strings.ToLower(v)
			return nil
		},
	},
	"watch_interval": {
		get: func(c *Config) string { return strconv.Itoa(c.WatchInterval) },
		set: func(c *Config, v string) error { return setPositive(&c.WatchInterval, "watch_interval", v) },
	},
	"signature_ttl": {
		get: func(c *Config) string { return strconv.Itoa(c.SignatureTTL) },
		set: func(c *Config, v string) error { return setPositive(&c.SignatureTTL, "signature_ttl", v) },
	},
}

func setPositive(dst *int, key, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("%s must be a positive integer (seconds)", key)
	}
	*dst = n
	return nil
}

// Keys returns every settable key in alphabetical order.
func Keys() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the string form of key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// Set parses value into key.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.set(c, value)
}

// ParseLogLevel maps a level name to a cfssl log level.
func ParseLogLevel(name string) (int, error) {
	switch strings.ToLower(name) {
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warning", "warn":
		return log.LevelWarning, nil
	case "error":
		return log.LevelError, nil
	case "critical":
		return log.LevelCritical, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", name)
}

// --- helpers ---

func defaults(dir string) *Config {
	return &Config{
		DataFile:      dataFile,
		Ledger:        LedgerLocal,
		RPCStrategy:   StrategyFastest,
		ListenAddr:    defaultListenAddr,
		LogLevel:      defaultLogLevel,
		WatchInterval: defaultInterval,
		SignatureTTL:  defaultSignatureTTL,
		configDir:     dir,
	}
}
