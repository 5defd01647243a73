package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server is the environment surface of cmd/server.
type Server struct {
	AdminKey       string `env:"CY_ADMIN_KEY"`
	AdminKeyBcrypt string `env:"CY_ADMIN_KEY_BCRYPT"`

	StoreBackend  string `env:"CY_STORE_BACKEND" envDefault:"sqlite"`
	StoreCompress bool   `env:"CY_STORE_COMPRESS"`
	StoreAsync    bool   `env:"CY_STORE_ASYNC"`

	EnableAdminHTTP bool `env:"CY_ENABLE_ADMIN_HTTP" envDefault:"true"`

	HTTPRatePerMin float64 `env:"CY_HTTP_RATE_PER_MIN" envDefault:"20"`
	HTTPRateBurst  int     `env:"CY_HTTP_RATE_BURST" envDefault:"300"`

	// Port overrides the port of -addr when set.
	Port string `env:"PORT"`
}

func (s Server) Validate() error {
	switch s.StoreBackend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("CY_STORE_BACKEND: unknown backend %q", s.StoreBackend)
	}
	if s.HTTPRatePerMin < 0 || s.HTTPRateBurst < 0 {
		return fmt.Errorf("http rate limits must be >= 0")
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
