// Package config loads the process's environment into a typed struct,
// grounded on the teacher's reliance on godotenv for local development
// paired with direct os.Getenv reads for the deployed environment.
package config

import (
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the server needs.
type Config struct {
	Port                 string
	BackendPublicKeyPEM  []byte
	PrivateKeyPEM        []byte
	PrivateKey           *rsa.PrivateKey
	PerformTradeEndpoint string
	DatabaseURL          string
	Development          bool
}

// Load reads a local .env file if present (ignored if missing — the
// deployed environment sets these directly) and then validates the
// process environment against the rules the protocol requires.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 os.Getenv("PORT"),
		PerformTradeEndpoint: os.Getenv("PERFORM_TRADE_ENDPOINT"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Development:          os.Getenv("NODE_ENV") == "development",
	}
	if key := os.Getenv("BACKEND_PUBLIC_KEY"); key != "" {
		cfg.BackendPublicKeyPEM = []byte(key)
	}
	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		cfg.PrivateKeyPEM = []byte(key)
	}

	if !cfg.Development {
		if cfg.Port == "" {
			return nil, fmt.Errorf("PORT is required outside development")
		}
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if len(cfg.PrivateKeyPEM) > 0 && cfg.PerformTradeEndpoint != "" && len(cfg.BackendPublicKeyPEM) == 0 {
		return nil, fmt.Errorf("settlement is configured (PRIVATE_KEY and PERFORM_TRADE_ENDPOINT set) but BACKEND_PUBLIC_KEY is absent: settlement without authentication is forbidden")
	}

	if len(cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse PRIVATE_KEY: %w", err)
		}
		cfg.PrivateKey = key
	}

	return cfg, nil
}

// SettlementEnabled reports whether enough configuration is present to
// dispatch settlement requests.
func (c *Config) SettlementEnabled() bool {
	return c.PrivateKey != nil && c.PerformTradeEndpoint != ""
}
