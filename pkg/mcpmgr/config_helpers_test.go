package mcpmgr

import (
	"errors"
	"testing"
	"time"
)

func TestServerConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  ServerConfig
		ok   bool
	}{
		{"stdio", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx"}, true},
		{"http", ServerConfig{Name: "web", Transport: TransportStreamableHTTP, URL: "https://example.com/mcp"}, true},
		{"sse", ServerConfig{Name: "legacy", Transport: TransportSSE, URL: "http://localhost:3001/sse"}, true},
		{"empty name", ServerConfig{Transport: TransportStdio, Command: "npx"}, false},
		{"padded name", ServerConfig{Name: " fs", Transport: TransportStdio, Command: "npx"}, false},
		{"control char", ServerConfig{Name: "f\ns", Transport: TransportStdio, Command: "npx"}, false},
		{"unknown transport", ServerConfig{Name: "x", Transport: "carrier-pigeon", Command: "npx"}, false},
		{"stdio without command", ServerConfig{Name: "x", Transport: TransportStdio}, false},
		{"http without url", ServerConfig{Name: "x", Transport: TransportStreamableHTTP}, false},
		{"relative url", ServerConfig{Name: "x", Transport: TransportStreamableHTTP, URL: "/mcp"}, false},
		{"ftp url", ServerConfig{Name: "x", Transport: TransportSSE, URL: "ftp://example.com"}, false},
		{"negative timeout", ServerConfig{Name: "x", Transport: TransportStdio, Command: "npx", ConnectTimeout: -time.Second}, false},
		{"negative retries", ServerConfig{Name: "x", Transport: TransportStdio, Command: "npx", RetryAttempts: -1}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() = %v, expected nil", err)
			}
			if !tc.ok && !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Validate() = %v, expected configuration error", err)
			}
		})
	}
}

func TestTemplateInstantiateAppliesOverrides(t *testing.T) {
	t.Parallel()

	tmpl := Template{
		Name:      "github",
		Category:  "Development",
		Transport: TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-github"},
		Env:       map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "", "LOG": "info"},
	}
	retries := 5
	cfg := tmpl.Instantiate("my-github", &ServerOverrides{
		Env:           map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "secret"},
		RetryAttempts: &retries,
	})

	if cfg.Name != "my-github" || !cfg.Enabled || cfg.Template != "github" || cfg.Category != "Development" {
		t.Fatalf("unexpected instantiated config: %#v", cfg)
	}
	if cfg.Env["GITHUB_PERSONAL_ACCESS_TOKEN"] != "secret" || cfg.Env["LOG"] != "info" {
		t.Fatalf("env not merged: %#v", cfg.Env)
	}
	if cfg.RetryAttempts != 5 {
		t.Fatalf("retry override ignored: %d", cfg.RetryAttempts)
	}

	cfg.Args[0] = "mutated"
	if tmpl.Args[0] != "-y" {
		t.Fatalf("instantiation must not alias template slices")
	}
	if tmpl.Env["GITHUB_PERSONAL_ACCESS_TOKEN"] != "" {
		t.Fatalf("overrides leaked into template env")
	}
}

func TestConfigFallbacks(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{Name: "x"}
	if got := cfg.connectTimeout(7 * time.Second); got != 7*time.Second {
		t.Fatalf("connectTimeout fallback = %s", got)
	}
	if got := cfg.retryBudget(0); got != 1 {
		t.Fatalf("retryBudget must be at least 1, got %d", got)
	}
	cfg.RetryAttempts = 4
	if got := cfg.retryBudget(3); got != 4 {
		t.Fatalf("config retry budget should win, got %d", got)
	}

	opts := (&ManagerOptions{RetryBackoff: -1}).withDefaults()
	if opts.RetryBackoff != 0 || opts.RetryAttempts != DefaultRetryAttempts || opts.ConnectTimeout != DefaultConnectTimeout {
		t.Fatalf("unexpected defaults: %#v", opts)
	}
}
