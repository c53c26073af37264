package config

import (
	"log"
	"os"
)

const (
	defaultDBPath       = "./bids.db"
	defaultPort         = "8080"
	defaultRefreshSpec  = "@every 5m"
	defaultEstimatorID  = "estimator"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	DBPath       string
	Port         string
	AppEnv       string
	RefreshSpec  string
	EstimatorID  string
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: load local dev environment variables.
	// We don't fail if the file is missing; production should use real env injection.
	_ = loadDotEnv(".env")

	cfg := Config{
		DBPath:      os.Getenv("DB_PATH"),
		Port:        os.Getenv("PORT"),
		AppEnv:      os.Getenv("APP_ENV"),
		RefreshSpec: os.Getenv("BENCH_REFRESH"),
		EstimatorID: os.Getenv("ESTIMATOR_ID"),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "dev"
	}
	if cfg.RefreshSpec == "" {
		cfg.RefreshSpec = defaultRefreshSpec
	}
	if cfg.EstimatorID == "" {
		cfg.EstimatorID = defaultEstimatorID
		log.Print("warning: ESTIMATOR_ID is not set, audit records use the default id")
	}

	return cfg
}

// IsDev reports whether the app runs in the local development environment.
func (c Config) IsDev() bool {
	return c.AppEnv == "dev"
}
