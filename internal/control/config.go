package control

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores connectivity information for the control plane.
type Config struct {
	BaseURL           string
	Token             string
	HTTPClient        *http.Client
	HealthEndpoint    string
	RequestTimeout    time.Duration
	HTTPMaxAttempts   int
	HTTPRetryInterval time.Duration
	Logger            *slog.Logger
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:           strings.TrimSpace(os.Getenv("LIVEFLEET_CONTROL_API")),
		Token:             strings.TrimSpace(os.Getenv("LIVEFLEET_CONTROL_TOKEN")),
		HealthEndpoint:    strings.TrimSpace(os.Getenv("LIVEFLEET_CONTROL_HEALTH")),
		RequestTimeout:    10 * time.Second,
		HTTPMaxAttempts:   1,
		HTTPRetryInterval: time.Second,
	}

	if timeout := strings.TrimSpace(os.Getenv("LIVEFLEET_CONTROL_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse LIVEFLEET_CONTROL_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.RequestTimeout = parsed
		}
	}

	if attempts := strings.TrimSpace(os.Getenv("LIVEFLEET_CONTROL_MAX_ATTEMPTS")); attempts != "" {
		parsed, err := strconv.Atoi(attempts)
		if err != nil {
			return Config{}, fmt.Errorf("parse LIVEFLEET_CONTROL_MAX_ATTEMPTS: %w", err)
		}
		if parsed > 0 {
			cfg.HTTPMaxAttempts = parsed
		}
	}

	if interval := strings.TrimSpace(os.Getenv("LIVEFLEET_CONTROL_RETRY_INTERVAL")); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("parse LIVEFLEET_CONTROL_RETRY_INTERVAL: %w", err)
		}
		if parsed >= 0 {
			cfg.HTTPRetryInterval = parsed
		}
	}

	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = "/healthz"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("missing control plane configuration: LIVEFLEET_CONTROL_API")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid control plane URL %q", c.BaseURL)
	}
	if c.HTTPMaxAttempts <= 0 {
		return errors.New("HTTP max attempts must be positive")
	}
	if c.HTTPRetryInterval < 0 {
		return errors.New("HTTP retry interval cannot be negative")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request timeout cannot be negative")
	}
	return nil
}

// NewHTTPClient constructs a Client backed by the control plane REST API.
func (c Config) NewHTTPClient() (*HTTPClient, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.RequestTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	health := c.HealthEndpoint
	if health == "" {
		health = "/healthz"
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(c.BaseURL, "/"),
		token:         c.Token,
		client:        httpClient,
		logger:        logger,
		health:        health,
		maxAttempts:   c.HTTPMaxAttempts,
		retryInterval: c.HTTPRetryInterval,
	}, nil
}
