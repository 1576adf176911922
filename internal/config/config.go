// Package config holds runtime tunables, read from the environment with
// sensible defaults. Load a .env file in main before calling FromEnv.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every knob the transports, relay and controller need.
type Config struct {
	// ListenAddr is the relay server bind address.
	ListenAddr string
	// RelayURL is the websocket endpoint of the relay, as seen by peers.
	RelayURL string

	// DiscoveryPort is the fixed UDP port for LAN room discovery.
	DiscoveryPort int

	// HeartbeatInterval is how often LAN clients probe the host.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the silence threshold after which the host drops a
	// client. Materially longer than the interval.
	HeartbeatTimeout time.Duration

	// ReconnectMax caps client reconnect attempts before reporting a
	// permanent disconnect.
	ReconnectMax int
	// ReconnectBaseDelay is the first backoff step; it doubles per attempt.
	ReconnectBaseDelay time.Duration

	// ResyncInterval is how often a freshly joined client re-requests state
	// until the first snapshot lands.
	ResyncInterval time.Duration
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		RelayURL:           "ws://127.0.0.1:8080/ws",
		DiscoveryPort:      47817,
		HeartbeatInterval:  2 * time.Second,
		HeartbeatTimeout:   10 * time.Second,
		ReconnectMax:       5,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ResyncInterval:     2 * time.Second,
	}
}

// FromEnv overlays SHAYEB_* environment variables onto the defaults.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("SHAYEB_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SHAYEB_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v, ok := envInt("SHAYEB_DISCOVERY_PORT"); ok {
		cfg.DiscoveryPort = v
	}
	if v, ok := envDuration("SHAYEB_HEARTBEAT_INTERVAL"); ok {
		cfg.HeartbeatInterval = v
	}
	if v, ok := envDuration("SHAYEB_HEARTBEAT_TIMEOUT"); ok {
		cfg.HeartbeatTimeout = v
	}
	if v, ok := envInt("SHAYEB_RECONNECT_MAX"); ok {
		cfg.ReconnectMax = v
	}
	if v, ok := envDuration("SHAYEB_RECONNECT_BASE_DELAY"); ok {
		cfg.ReconnectBaseDelay = v
	}
	if v, ok := envDuration("SHAYEB_RESYNC_INTERVAL"); ok {
		cfg.ResyncInterval = v
	}
	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
