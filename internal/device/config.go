package device

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config holds the tunables shared by the CLI and the volume manager
type Config struct {
	SliceSize       string `mapstructure:"slice_size"`
	BlockSize       uint32 `mapstructure:"block_size"`
	VerifyWrites    bool   `mapstructure:"verify_writes"`
	ReclaimInactive bool   `mapstructure:"reclaim_inactive"`
	LogVerbosity    int    `mapstructure:"log_verbosity"`
}

// SliceSizeBytes parses SliceSize ("64MiB", "1M", "8192").
func (c *Config) SliceSizeBytes() (uint64, error) {
	return ParseSize(c.SliceSize)
}

// ParseSize parses a human readable byte count.
func ParseSize(s string) (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// FormatSize renders a byte count using IEC units.
func FormatSize(n uint64) string {
	return humanize.IBytes(n)
}

// LoadConfig loads configuration using Viper. An explicit configFile takes precedence over
// the search path; a missing config file is not an error.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fvm-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.fvm")
		v.AddConfigPath("/etc/fvm")
	}

	// Set defaults
	v.SetDefault("slice_size", "1MiB")
	v.SetDefault("block_size", 512)
	v.SetDefault("verify_writes", true)
	v.SetDefault("reclaim_inactive", true)
	v.SetDefault("log_verbosity", 0)

	// Allow environment variables
	v.SetEnvPrefix("FVM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.BlockSize == 0 {
		return nil, fmt.Errorf("block_size must be non-zero")
	}
	if _, err := config.SliceSizeBytes(); err != nil {
		return nil, err
	}
	return &config, nil
}
