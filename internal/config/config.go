package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the gateway's config.toml.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds bearer credentials. An empty Token and JWTSecret disable
// authentication.
type AuthConfig struct {
	Token     string `toml:"token"`
	JWTSecret string `toml:"jwt_secret"`
}

type StorageConfig struct {
	BaseDir string `toml:"base_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type WhatsAppConfig struct {
	DeviceName string `toml:"device_name"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":21465"},
		Storage:  StorageConfig{BaseDir: "~/.wppgw"},
		Log:      LogConfig{Level: "info"},
		WhatsApp: WhatsAppConfig{DeviceName: "WPPGW"},
	}
}

// Load reads config from path on top of Default, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		_, err := toml.DecodeFile(path, cfg)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env from the working directory into the process
// environment if present. Variables already set win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	set(&cfg.Server.Addr, "WPPGW_ADDR")
	set(&cfg.Auth.Token, "WPPGW_TOKEN")
	set(&cfg.Auth.JWTSecret, "WPPGW_JWT_SECRET")
	set(&cfg.Storage.BaseDir, "WPPGW_BASE_DIR")
	set(&cfg.Log.Level, "WPPGW_LOG_LEVEL")
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
