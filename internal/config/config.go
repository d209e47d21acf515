package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL       string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3Region          string
	ExportsBucket     string
	WorkerConcurrency int
	HTTPAddr          string

	ExportHorizon       time.Duration
	BlindSpotWindowDays int
	StaleJobTimeout     time.Duration
	RunPageSize         int
	PolicyFile          string
}

// Policy is the optional YAML overlay named by POLICY_FILE. Fields left
// empty keep the environment value.
type Policy struct {
	ExportHorizon       string `yaml:"export_horizon"`
	BlindSpotWindowDays int    `yaml:"blind_spot_window_days"`
	RunPageSize         int    `yaml:"run_page_size"`
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Load reads the configuration and exits when it is unusable.
func Load() Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Parse reads the configuration from the environment and the optional
// policy file.
func Parse() (Config, error) {
	cfg := Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:            getBool("S3_USE_SSL", "false"),
		S3Region:            os.Getenv("S3_REGION"),
		ExportsBucket:       os.Getenv("EXPORTS_BUCKET"),
		WorkerConcurrency:   getInt("WORKER_CONCURRENCY", 2),
		HTTPAddr:            os.Getenv("HTTP_ADDR"),
		ExportHorizon:       getDuration("EXPORT_HORIZON", 24*time.Hour),
		BlindSpotWindowDays: getInt("BLIND_SPOT_WINDOW_DAYS", 30),
		StaleJobTimeout:     getDuration("STALE_JOB_TIMEOUT", 10*time.Minute),
		RunPageSize:         getInt("RUN_PAGE_SIZE", 500),
		PolicyFile:          os.Getenv("POLICY_FILE"),
	}
	if cfg.PolicyFile != "" {
		if err := cfg.applyPolicyFile(cfg.PolicyFile); err != nil {
			return Config{}, err
		}
	}
	// quick sanity
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.ExportsBucket == "" {
		return Config{}, errors.New("EXPORTS_BUCKET is required")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.BlindSpotWindowDays <= 0 {
		return Config{}, fmt.Errorf("BLIND_SPOT_WINDOW_DAYS must be positive, got %d", cfg.BlindSpotWindowDays)
	}
	return cfg, nil
}

func (c *Config) applyPolicyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if p.ExportHorizon != "" {
		d, err := time.ParseDuration(p.ExportHorizon)
		if err != nil || d <= 0 {
			return fmt.Errorf("policy file %s: invalid export_horizon %q", path, p.ExportHorizon)
		}
		c.ExportHorizon = d
	}
	if p.BlindSpotWindowDays != 0 {
		c.BlindSpotWindowDays = p.BlindSpotWindowDays
	}
	if p.RunPageSize > 0 {
		c.RunPageSize = p.RunPageSize
	}
	return nil
}
