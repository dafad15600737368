// Package config содержит логику чтения конфигурации сервиса станции замены.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса станции замены.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	DiagnosticsAddress string `env:"DIAGNOSTICS_ADDRESS"`
	RedisURL           string `env:"REDIS_URL"`
	OperatorSecret     string `env:"OPERATOR_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.DiagnosticsAddress, "g", "", "battery diagnostics service address")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL for session events")
	flag.StringVar(&cfg.OperatorSecret, "s", "", "secret for operator token signatures")

	flag.Parse()

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.DiagnosticsAddress, fromEnv.DiagnosticsAddress)
	override(&cfg.RedisURL, fromEnv.RedisURL)
	override(&cfg.OperatorSecret, fromEnv.OperatorSecret)

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required")
	}

	return cfg, nil
}
