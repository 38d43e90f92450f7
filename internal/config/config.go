// Package config loads SDK configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds everything the SDK needs to talk to a MindWell deployment.
type Config struct {
	APIBaseURL  string        `env:"MINDWELL_API_URL,default=http://localhost:4000/api"`
	RealtimeURL string        `env:"MINDWELL_REALTIME_URL"`
	Timeout     time.Duration `env:"MINDWELL_TIMEOUT,default=10s"`
	CacheTTL    time.Duration `env:"MINDWELL_CACHE_TTL,default=5s"`
	DataDir     string        `env:"MINDWELL_DATA_DIR"`
	LogLevel    string        `env:"MINDWELL_LOG_LEVEL,default=info"`
	LogJSON     bool          `env:"MINDWELL_LOG_JSON,default=false"`
	AutoRefresh bool          `env:"MINDWELL_AUTO_REFRESH,default=true"`
	Reconnect   bool          `env:"MINDWELL_RECONNECT,default=true"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load() // allow .env for local runs

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() (Config, error) {
	c.APIBaseURL = strings.TrimSuffix(c.APIBaseURL, "/")

	if c.RealtimeURL == "" {
		derived, err := deriveRealtimeURL(c.APIBaseURL)
		if err != nil {
			return Config{}, err
		}
		c.RealtimeURL = derived
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, ".mindwell")
	}
	return c, nil
}

// deriveRealtimeURL maps the API base URL onto the websocket endpoint:
// http://host/api becomes ws://host/realtime, https becomes wss.
func deriveRealtimeURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api url scheme must be http or https, got %q", u.Scheme)
	}
	u.Path = "/realtime"
	u.RawQuery = ""
	return u.String(), nil
}
