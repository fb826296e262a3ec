package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the daemon configuration loaded from TOML.
type Config struct {
	RPCAddress  string   `toml:"RPCAddress"`
	MetricsAddr string   `toml:"MetricsAddress"`
	DataDir     string   `toml:"DataDir"`
	LogFile     string   `toml:"LogFile"`
	LogMaxSize  int      `toml:"LogMaxSizeMB"`
	LogBackups  int      `toml:"LogMaxBackups"`
	FeeBps      uint32   `toml:"FeeBps"`
	FeeTreasury string   `toml:"FeeTreasury"`
	Vault       string   `toml:"Vault"`
	Instruments []string `toml:"Instruments"`
	PauseMarket bool     `toml:"PauseMarket"`
}

// Default returns the baseline configuration applied before the file is read.
func Default() Config {
	return Config{
		RPCAddress:  "127.0.0.1:8645",
		MetricsAddr: "127.0.0.1:9464",
		DataDir:     "./marketdata",
		LogMaxSize:  64,
		LogBackups:  4,
		FeeBps:      250,
	}
}

// Load reads the TOML configuration file at path, overlaying it on the
// defaults. A missing file yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for wiring mistakes before the daemon
// starts serving.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := ParseAddress(c.FeeTreasury); err != nil {
		return fmt.Errorf("config: FeeTreasury: %w", err)
	}
	if _, err := ParseAddress(c.Vault); err != nil {
		return fmt.Errorf("config: Vault: %w", err)
	}
	for _, symbol := range c.Instruments {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("config: empty instrument symbol")
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(decoded) != 20 {
		return out, fmt.Errorf("invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
