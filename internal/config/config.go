// Package config holds the fixed endpoints and paths. Both endpoints
// are decided at start time; there is no runtime negotiation or
// failover.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	// HTTPBaseURL is the collaborator REST API base.
	HTTPBaseURL string `json:"httpBaseUrl"`
	// WSURL is the realtime gateway endpoint.
	WSURL string `json:"wsUrl"`
	// StatePath is the local snapshot database location.
	StatePath string `json:"statePath"`
	// Server listen addresses, used by the daemon only.
	GatewayAddr string `json:"gatewayAddr"`
	CollabAddr  string `json:"collabAddr"`
}

func Default() Config {
	return Config{
		HTTPBaseURL: "http://127.0.0.1:8081",
		WSURL:       "ws://127.0.0.1:8080/ws",
		StatePath:   "auxlobby.db",
		GatewayAddr: ":8080",
		CollabAddr:  ":8081",
	}
}

// Load reads a JSON config file, filling missing fields from defaults.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
