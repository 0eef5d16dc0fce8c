// Package config provides application configuration management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
	"github.com/Adam-Moller/secure-opus-vault/internal/logging"
)

// EnvPrefix is prepended to every environment variable, e.g. OPVAULT_DATA_DIR.
const EnvPrefix = "OPVAULT"

// Backend choices for the "backend" key.
const (
	BackendAuto     = "auto"
	BackendNative   = "native"
	BackendEmbedded = "embedded"
)

// Config holds all application configuration.
type Config struct {
	DataDir       string
	RegistryFile  string
	Backend       string
	Sandboxed     bool
	Cipher        crypto.Cipher
	KDF           crypto.KDFParams
	AutosaveDelay time.Duration
	Unlock        UnlockConfig
	Log           LogConfig
	Metrics       MetricsConfig
}

// UnlockConfig throttles failed unlock attempts per vault.
type UnlockConfig struct {
	// Rate is the interval after which one more failed attempt is allowed.
	Rate  time.Duration
	Burst int
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// Textfile, when set, receives a Prometheus text dump on exit.
	Textfile string
}

// DefaultDataDir returns ~/.opvault, or .opvault when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opvault"
	}
	return filepath.Join(home, ".opvault")
}

// New returns a viper instance with defaults and environment binding set up.
// The CLI binds its flags to the returned instance before calling Load.
func New() *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// ReadFile merges a YAML config file into v. An empty path looks for
// config.yaml in the data directory; a missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.AddConfigPath(v.GetString("data_dir"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:       v.GetString("data_dir"),
		RegistryFile:  v.GetString("registry_file"),
		Backend:       strings.ToLower(v.GetString("backend")),
		Sandboxed:     v.GetBool("sandboxed"),
		AutosaveDelay: v.GetDuration("autosave_delay"),
		Unlock: UnlockConfig{
			Rate:  v.GetDuration("unlock.rate"),
			Burst: v.GetInt("unlock.burst"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Metrics: MetricsConfig{
			Textfile: v.GetString("metrics.textfile"),
		},
	}

	c, err := crypto.ParseCipher(v.GetString("cipher"))
	if err != nil {
		return nil, err
	}
	cfg.Cipher = c

	cfg.KDF = crypto.KDFParams{
		KDF:     crypto.KDFArgon2id,
		Time:    v.GetUint32("kdf.time"),
		Memory:  v.GetUint32("kdf.memory"),
		Threads: uint8(v.GetUint("kdf.threads")),
	}

	if cfg.RegistryFile == "" {
		cfg.RegistryFile = filepath.Join(cfg.DataDir, "registry.yaml")
	} else if !filepath.IsAbs(cfg.RegistryFile) {
		cfg.RegistryFile = filepath.Join(cfg.DataDir, cfg.RegistryFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("registry_file", "")
	v.SetDefault("backend", BackendAuto)
	v.SetDefault("sandboxed", false)

	// Crypto defaults
	v.SetDefault("cipher", crypto.CipherAES256GCM.String())
	v.SetDefault("kdf.time", crypto.Argon2Time)
	v.SetDefault("kdf.memory", crypto.Argon2Memory)
	v.SetDefault("kdf.threads", crypto.Argon2Threads)
	v.SetDefault("autosave_delay", 2*time.Second)
	v.SetDefault("unlock.rate", 10*time.Second)
	v.SetDefault("unlock.burst", 5)

	// Logging defaults
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.textfile", "")
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Backend {
	case BackendAuto, BackendNative, BackendEmbedded:
	default:
		return fmt.Errorf("unknown backend %q: want %s, %s or %s", c.Backend, BackendAuto, BackendNative, BackendEmbedded)
	}

	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("kdf: %w", err)
	}

	if c.AutosaveDelay < 0 {
		return fmt.Errorf("autosave_delay must not be negative")
	}
	if c.Unlock.Rate < 0 || c.Unlock.Burst < 0 {
		return fmt.Errorf("unlock.rate and unlock.burst must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q: want text or json", c.Log.Format)
	}

	return nil
}

// BoltPath returns the embedded database location.
func (c *Config) BoltPath() string {
	return filepath.Join(c.DataDir, "vaults.db")
}

// VaultDir returns the directory native vault files default to.
func (c *Config) VaultDir() string {
	return filepath.Join(c.DataDir, "vaults")
}
