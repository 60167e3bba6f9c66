package mcpmgr

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"
)

// Validate rejects configs that cannot be connected. It performs no I/O.
func (c ServerConfig) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return configError("", "name is required", nil)
	}
	if name != c.Name || strings.IndexFunc(c.Name, unicode.IsControl) >= 0 {
		return configError(c.Name, "name must not contain surrounding whitespace or control characters", nil)
	}
	if !c.Transport.Valid() {
		return configError(c.Name, fmt.Sprintf("unknown transport %q", c.Transport), nil)
	}
	if c.Transport.UsesURL() {
		if err := validateEndpoint(c.URL); err != nil {
			return configError(c.Name, "invalid url", err)
		}
	} else if strings.TrimSpace(c.Command) == "" {
		return configError(c.Name, "command is required for stdio transport", nil)
	}
	if c.ConnectTimeout < 0 {
		return configError(c.Name, "connect_timeout must not be negative", nil)
	}
	if c.RetryAttempts < 0 {
		return configError(c.Name, "retry_attempts must not be negative", nil)
	}
	return nil
}

func validateEndpoint(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required for HTTP transports")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c ServerConfig) Clone() ServerConfig {
	c.Args = slices.Clone(c.Args)
	c.Env = maps.Clone(c.Env)
	c.Headers = maps.Clone(c.Headers)
	return c
}

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	t.Args = slices.Clone(t.Args)
	t.Env = maps.Clone(t.Env)
	t.Headers = maps.Clone(t.Headers)
	return t
}

// Instantiate copies the template into a new enabled config named name and
// applies overrides. The result is not validated.
func (t Template) Instantiate(name string, overrides *ServerOverrides) ServerConfig {
	src := t.Clone()
	cfg := ServerConfig{
		Name:           name,
		Transport:      src.Transport,
		Command:        src.Command,
		Args:           src.Args,
		Env:            src.Env,
		URL:            src.URL,
		Headers:        src.Headers,
		Enabled:        true,
		ConnectTimeout: src.ConnectTimeout,
		RetryAttempts:  src.RetryAttempts,
		Category:       src.Category,
		Template:       src.Name,
	}
	overrides.apply(&cfg)
	return cfg
}

func (o *ServerOverrides) apply(cfg *ServerConfig) {
	if o == nil {
		return
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.Command != nil {
		cfg.Command = *o.Command
	}
	if o.Args != nil {
		cfg.Args = slices.Clone(o.Args)
	}
	if len(o.Env) > 0 {
		cfg.Env = mergeStrings(cfg.Env, o.Env)
	}
	if o.URL != nil {
		cfg.URL = *o.URL
	}
	if len(o.Headers) > 0 {
		cfg.Headers = mergeStrings(cfg.Headers, o.Headers)
	}
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.ConnectTimeout != nil {
		cfg.ConnectTimeout = *o.ConnectTimeout
	}
	if o.RetryAttempts != nil {
		cfg.RetryAttempts = *o.RetryAttempts
	}
}

func mergeStrings(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}

// connectTimeout returns the per-attempt timeout, falling back to def.
func (c ServerConfig) connectTimeout(def time.Duration) time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return def
}

// retryBudget returns the number of connect attempts, falling back to def.
func (c ServerConfig) retryBudget(def int) int {
	if c.RetryAttempts > 0 {
		return c.RetryAttempts
	}
	if def > 0 {
		return def
	}
	return 1
}
