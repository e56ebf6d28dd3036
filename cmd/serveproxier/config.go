package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sessionproxy/domain"
)

const (
	envListenAddr   = "PROXY_LISTEN_ADDR"
	envRedisAddress = "PROXY_REDIS_ADDRESS"
	envConfigPath   = "PROXY_CONFIG_PATH"
)

// Config holds the proxy's full runtime configuration, loaded from
// environment variables plus an optional YAML overrides file (spec.md §6
// "Configuration inputs", SPEC_FULL.md §6 ambient configuration). Grounded
// on MyGateway/cmd's LoadConfig env+YAML split.
type Config struct {
	ListenAddr          string
	RedisAddress        string
	PortMin             int
	PortMax             int
	ReaperInterval      time.Duration
	ChannelReadyTimeout time.Duration
	LogRetryCount       int
	LogRetryInterval    time.Duration
	SessionDir          string
	FateShare           bool
}

// yamlOverrides is the root struct for the optional YAML config file.
type yamlOverrides struct {
	PortRange struct {
		Min int `yaml:"min"`
		Max int `yaml:"max"`
	} `yaml:"port_range"`
	ReaperIntervalMs      int    `yaml:"reaper_interval_ms"`
	ChannelReadyTimeoutMs int    `yaml:"channel_ready_timeout_ms"`
	LogRetryCount         int    `yaml:"log_retry_count"`
	LogRetryIntervalMs    int    `yaml:"log_retry_interval_ms"`
	SessionDir            string `yaml:"session_dir"`
}

// LoadConfig builds proxy config from environment variables and an optional YAML file. Reads PROXY_LISTEN_ADDR (required), PROXY_REDIS_ADDRESS (required) from the environment; defaults PortMin/PortMax to domain.PortMin/PortMax and FateShare to true. PROXY_CONFIG_PATH, if set, is converted to absolute and parsed as YAML; any of port_range, reaper_interval_ms, channel_ready_timeout_ms, log_retry_count, log_retry_interval_ms, session_dir present there override the defaults.
//
// Parameters: none (source — os.Getenv and the file at PROXY_CONFIG_PATH).
//
// Returns: (*Config, nil) on success; (nil, error) on a missing required env var, or a YAML read/parse failure.
//
// Called only from main at startup.
func LoadConfig() (*Config, error) {
	listenAddr := strings.TrimSpace(os.Getenv(envListenAddr))
	if listenAddr == "" {
		return nil, fmt.Errorf("%s is required", envListenAddr)
	}
	redisAddress := strings.TrimSpace(os.Getenv(envRedisAddress))
	if redisAddress == "" {
		return nil, fmt.Errorf("%s is required", envRedisAddress)
	}

	cfg := &Config{
		ListenAddr:          listenAddr,
		RedisAddress:        redisAddress,
		PortMin:             domain.PortMin,
		PortMax:             domain.PortMax,
		FateShare:           true,
	}

	configPath := strings.TrimSpace(os.Getenv(envConfigPath))
	if configPath == "" {
		return cfg, nil
	}
	if !filepath.IsAbs(configPath) {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, err
		}
		configPath = abs
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	var raw yamlOverrides
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	if raw.PortRange.Min > 0 {
		cfg.PortMin = raw.PortRange.Min
	}
	if raw.PortRange.Max > 0 {
		cfg.PortMax = raw.PortRange.Max
	}
	if raw.ReaperIntervalMs > 0 {
		cfg.ReaperInterval = time.Duration(raw.ReaperIntervalMs) * time.Millisecond
	}
	if raw.ChannelReadyTimeoutMs > 0 {
		cfg.ChannelReadyTimeout = time.Duration(raw.ChannelReadyTimeoutMs) * time.Millisecond
	}
	if raw.LogRetryCount > 0 {
		cfg.LogRetryCount = raw.LogRetryCount
	}
	if raw.LogRetryIntervalMs > 0 {
		cfg.LogRetryInterval = time.Duration(raw.LogRetryIntervalMs) * time.Millisecond
	}
	cfg.SessionDir = strings.TrimSpace(raw.SessionDir)

	return cfg, nil
}
