package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/auth"
	"github.com/alexjbarnes/gadget-auth/internal/crypto"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheBolt   = "bolt"
)

// Config holds all environment-based configuration for gadget-auth.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default level when set.
	LogLevel string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// ServerURL is the external base URL. OAuth providers redirect to
	// ServerURL + /gadgets/oauthcallback.
	ServerURL string `env:"SERVER_URL"`

	// TokenSecret keys the encryption of st values and cached tokens.
	TokenSecret string `env:"TOKEN_SECRET"`

	AnonymousName  string `env:"ANONYMOUS_NAME" envDefault:"anonymous"`
	AllowAnonymous bool   `env:"ALLOW_ANONYMOUS" envDefault:"true"`

	// ConsumersFile is the YAML consumer registry. Empty means no OAuth
	// consumers are configured.
	ConsumersFile  string `env:"CONSUMERS_FILE"`
	ConsumersWatch bool   `env:"CONSUMERS_WATCH" envDefault:"false"`

	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"memory"`
	CachePath    string        `env:"CACHE_PATH"`
	StateTTL     time.Duration `env:"STATE_TTL" envDefault:"10m"`

	APIKeys string `env:"API_KEYS"`

	ProxyTimeout     time.Duration `env:"PROXY_TIMEOUT" envDefault:"30s"`

	// BlockPrivateTargets refuses proxied calls to loopback, private and
	// link-local addresses.
	BlockPrivateTargets bool `env:"BLOCK_PRIVATE_TARGETS" envDefault:"true"`

	MaxResponseBytes int64         `env:"MAX_RESPONSE_BYTES" envDefault:"10485760"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.CacheBackend == CacheBolt && cfg.CachePath == "" {
		p, err := DefaultCachePath()
		if err != nil {
			return nil, err
		}

		cfg.CachePath = p
	}

	if cfg.ConsumersFile != "" {
		abs, err := filepath.Abs(cfg.ConsumersFile)
		if err != nil {
			return nil, fmt.Errorf("resolving consumers file to absolute path: %w", err)
		}

		cfg.ConsumersFile = abs
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SERVER_URL must be an absolute http(s) URL")
	}

	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}

	if len(c.TokenSecret) < crypto.MinSecretLen {
		return fmt.Errorf("TOKEN_SECRET too short (minimum %d characters)", crypto.MinSecretLen)
	}

	if c.AnonymousName == "" {
		return fmt.Errorf("ANONYMOUS_NAME must not be empty")
	}

	switch c.CacheBackend {
	case CacheMemory, CacheBolt:
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q (memory or bolt)", c.CacheBackend)
	}

	if c.ConsumersWatch && c.ConsumersFile == "" {
		return fmt.Errorf("CONSUMERS_WATCH requires CONSUMERS_FILE")
	}

	if c.StateTTL <= 0 {
		return fmt.Errorf("STATE_TTL must be positive")
	}

	if c.ProxyTimeout <= 0 {
		return fmt.Errorf("PROXY_TIMEOUT must be positive")
	}

	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("MAX_RESPONSE_BYTES must be positive")
	}

	if _, err := c.ParseAPIKeys(); err != nil {
		return err
	}

	return nil
}

// DefaultCachePath returns ~/.gadget-auth/cache.db.
func DefaultCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, ".gadget-auth", "cache.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// CallbackURL returns the absolute OAuth callback URL.
func (c *Config) CallbackURL() string {
	return c.ServerURL + "/gadgets/oauthcallback"
}

// Origin returns the scheme and host of ServerURL, the origin of the
// container pages that open the OAuth popup.
func (c *Config) Origin() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}

	return u.Scheme + "://" + u.Host
}

// AnonymousPolicy maps ALLOW_ANONYMOUS onto the factory policy.
func (c *Config) AnonymousPolicy() auth.AnonymousPolicy {
	if c.AllowAnonymous {
		return auth.PolicyAllow
	}

	return auth.PolicyDeny
}

// ParseAPIKeys parses the API_KEYS string.
// Format: "user1:ga_key1,user2:ga_key2"
func (c *Config) ParseAPIKeys() ([]auth.APIKey, error) {
	if c.APIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})
	seenKeys := make(map[string]struct{})

	var entries []auth.APIKey

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		key := pair[idx+1:]
		if userID == "" || key == "" {
			return nil, fmt.Errorf("empty user or key in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(key, auth.APIKeyPrefix) {
			return nil, fmt.Errorf("API key must start with %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if len(key) < auth.APIKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, auth.APIKeyMinLen)
		}

		suffix := key[len(auth.APIKeyPrefix):]
		if _, err := hex.DecodeString(suffix); err != nil {
			return nil, fmt.Errorf("API key contains non-hex characters after %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in API_KEYS", userID)
		}

		if _, dup := seenKeys[key]; dup {
			return nil, fmt.Errorf("duplicate key in API_KEYS entry %d", len(entries)+1)
		}

		seenUsers[userID] = struct{}{}
		seenKeys[key] = struct{}{}
		entries = append(entries, auth.APIKey{UserID: userID, Key: key})
	}

	return entries, nil
}
