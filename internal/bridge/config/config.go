// Package config loads the bridge server configuration from command line
// flags with environment variable overrides.
package config

import (
	"flag"
	"os"
)

// Config holds the bridge server configuration
type Config struct {
	// HTTP API settings
	APIAddr  string // Address the HTTP API binds to
	LogLevel string
	LogFile  string // Rotated log file path; empty disables file logging

	// Identity
	NodeID string // Bridge instance name carried on every event

	// Transfer settings
	StagingDir string // Directory for generated and received transfer files

	// Event stream settings
	NATSURL    string // NATS server URL; empty disables NATS publishing
	NATSStream string // JetStream stream name
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	// Define flags
	flag.StringVar(&cfg.APIAddr, "addr", "0.0.0.0:8310", "HTTP API listen address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "logfile", "", "Rotated log file path (disabled if empty)")
	flag.StringVar(&cfg.NodeID, "node", "", "Bridge node id (hostname if not set)")
	flag.StringVar(&cfg.StagingDir, "staging", "", "Transfer file staging directory (OS temp dir if not set)")
	flag.StringVar(&cfg.NATSURL, "nats", "", "NATS server URL for event publishing (disabled if empty)")
	flag.StringVar(&cfg.NATSStream, "nats-stream", "NEARBRIDGE_EVENTS", "JetStream stream name")

	flag.Parse()

	// Override with environment variables if set
	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.APIAddr = addr
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if logfile := os.Getenv("LOG_FILE"); logfile != "" {
		cfg.LogFile = logfile
	}
	if node := os.Getenv("NODE_ID"); node != "" {
		cfg.NodeID = node
	}
	if staging := os.Getenv("STAGING_DIR"); staging != "" {
		cfg.StagingDir = staging
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATSURL = natsURL
	}
	if stream := os.Getenv("NATS_STREAM"); stream != "" {
		cfg.NATSStream = stream
	}

	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		} else {
			cfg.NodeID = "nearbridge"
		}
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}

	return cfg
}
