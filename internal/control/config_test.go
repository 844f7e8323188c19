package control

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("LIVEFLEET_CONTROL_API", "https://control.example.com/")
	t.Setenv("LIVEFLEET_CONTROL_TOKEN", "token")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.HTTPMaxAttempts != 1 {
		t.Fatalf("expected a single attempt by default, got %d", cfg.HTTPMaxAttempts)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected request timeout %s", cfg.RequestTimeout)
	}
	if cfg.HealthEndpoint != "/healthz" {
		t.Fatalf("unexpected health endpoint %q", cfg.HealthEndpoint)
	}

	client, err := cfg.NewHTTPClient()
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if client.baseURL != "https://control.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", client.baseURL)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("LIVEFLEET_CONTROL_API", "http://localhost:9000")
	t.Setenv("LIVEFLEET_CONTROL_MAX_ATTEMPTS", "4")
	t.Setenv("LIVEFLEET_CONTROL_RETRY_INTERVAL", "250ms")
	t.Setenv("LIVEFLEET_CONTROL_TIMEOUT", "3s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.HTTPMaxAttempts != 4 || cfg.HTTPRetryInterval != 250*time.Millisecond || cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigFromEnvErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing url":  {},
		"relative url": {"LIVEFLEET_CONTROL_API": "control.local"},
		"bad attempts": {"LIVEFLEET_CONTROL_API": "http://x", "LIVEFLEET_CONTROL_MAX_ATTEMPTS": "many"},
		"bad interval": {"LIVEFLEET_CONTROL_API": "http://x", "LIVEFLEET_CONTROL_RETRY_INTERVAL": "soon"},
		"bad timeout":  {"LIVEFLEET_CONTROL_API": "http://x", "LIVEFLEET_CONTROL_TIMEOUT": "forever"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("LIVEFLEET_CONTROL_API", "")
			for key, value := range env {
				t.Setenv(key, value)
			}
			if _, err := LoadConfigFromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
