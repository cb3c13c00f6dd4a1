// Package config loads the agent's configuration from environment
// variables, following the same "_env_str/_env_int/_env_float/_env_list
// with defaults" shape as the original Python implementation's config
// module. No env-config library (envconfig, viper, caarlos0/env) appears
// anywhere in the example pack, so this is hand-written the way the
// teacher parses its own flags by hand.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything an agent process needs to construct its
// singletons. Loaded once at startup; never mutated afterward.
type Config struct {
	NodeID   string
	NodeType string

	EstURL  string
	DetURL  string
	FineURL string

	Peers []string

	CollectorURL string

	DBPath string

	SlotSeconds int
	UploadEvery int

	HTTPTimeout    time.Duration
	ExecuteTimeout time.Duration

	PeerRefreshSeconds   time.Duration
	UploaderCheckSeconds time.Duration

	Addr string
}

// CollectorUploadURL is the derived endpoint the uploader POSTs batches
// to, matching config.py's collector_upload_url property.
func (c Config) CollectorUploadURL() string {
	return strings.TrimRight(c.CollectorURL, "/") + "/upload_batch"
}

// Load reads Config from the environment. Returns an error describing the
// first missing required variable — the caller is expected to treat this
// as fatal at startup, per spec.
func Load() (Config, error) {
	c := Config{
		NodeID:   envString("NODE_ID", ""),
		NodeType: envString("NODE_TYPE", "pi"),

		EstURL:  envString("EST_URL", ""),
		DetURL:  envString("DET_URL", ""),
		FineURL: envString("FINE_URL", ""),

		Peers: envList("PEERS", nil),

		CollectorURL: envString("COLLECTOR_URL", ""),

		DBPath: envString("DB_PATH", "./data"),

		SlotSeconds: envInt("SLOT_SECONDS", 300),
		UploadEvery: envInt("UPLOAD_EVERY", 10),

		HTTPTimeout:    envDuration("HTTP_TIMEOUT", 5*time.Second),
		ExecuteTimeout: envDuration("EXECUTE_TIMEOUT", 15*time.Second),

		PeerRefreshSeconds:   envDuration("PEER_REFRESH_SECONDS", 10*time.Second),
		UploaderCheckSeconds: envDuration("UPLOADER_CHECK_SECONDS", 5*time.Second),

		Addr: envString("ADDR", ":8080"),
	}

	if c.NodeID == "" {
		return Config{}, fmt.Errorf("NODE_ID is required")
	}
	if c.EstURL == "" {
		return Config{}, fmt.Errorf("EST_URL is required")
	}
	if c.DetURL == "" {
		return Config{}, fmt.Errorf("DET_URL is required")
	}
	if c.FineURL == "" {
		return Config{}, fmt.Errorf("FINE_URL is required")
	}
	if c.CollectorURL == "" {
		return Config{}, fmt.Errorf("COLLECTOR_URL is required")
	}
	return c, nil
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func envList(name string, def []string) []string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
