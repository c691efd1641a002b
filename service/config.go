package service

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nats-io/nkeys"

	"github.com/msimon/polstore/notify"
	"github.com/msimon/polstore/store"
)

// Config holds the complete configuration for the polstore service.
type Config struct {
	// Store configures the persistence backend.
	Store StoreConfig `json:"store"`

	// Events configures the change-event sink.
	Events EventsConfig `json:"events"`

	// Server configures the request/reply API connection.
	Server ServerConfig `json:"server"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Type is the backend type: "memory" or "nats". Default: "memory".
	Type string `json:"type"`

	// Nats contains NATS KV backend configuration.
	Nats *store.NatsStoreConfig `json:"nats,omitempty"`
}

// EventsConfig selects and configures the notification sink.
type EventsConfig struct {
	// Type is the sink type: "nats", "log", or "none". Default: "log".
	Type string `json:"type"`

	// Nats contains NATS publisher configuration.
	Nats *notify.NatsNotifierConfig `json:"nats,omitempty"`
}

// ServerConfig configures the service's own NATS connection.
type ServerConfig struct {
	// NatsURL is the NATS server URL.
	NatsURL string `json:"natsUrl"`

	// NatsCredentials is the path to a NATS credentials file.
	// Mutually exclusive with NatsNkey.
	NatsCredentials string `json:"natsCredentials,omitempty"`

	// NatsNkey is the path to the nkey seed file for NATS authentication.
	// Mutually exclusive with NatsCredentials.
	NatsNkey string `json:"natsNkey,omitempty"`

	// SubjectPrefix is the subject root for API requests
	// (e.g. "<prefix>.create"). Default: "polstore".
	SubjectPrefix string `json:"subjectPrefix,omitempty"`
}

// LoadConfig reads and parses a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &config, nil
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	// Validate store config
	if c.Store.Type == "" {
		c.Store.Type = "memory" // default to memory
	}
	switch c.Store.Type {
	case "memory":
		// nothing to configure
	case "nats":
		if c.Store.Nats == nil {
			return fmt.Errorf("store.nats configuration is required when type is 'nats'")
		}
		if c.Store.Nats.Bucket == "" {
			return fmt.Errorf("store.nats.bucket is required")
		}
		if c.Store.Nats.NatsCredentials != "" && c.Store.Nats.NatsNkey != "" {
			return fmt.Errorf("store.nats.natsCredentials and store.nats.natsNkey are mutually exclusive")
		}
		if c.Store.Nats.NatsNkey != "" {
			if err := validateNkeySeedFile(c.Store.Nats.NatsNkey); err != nil {
				return fmt.Errorf("store.nats.natsNkey: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}

	// Validate events config
	if c.Events.Type == "" {
		c.Events.Type = "log" // default to log
	}
	switch c.Events.Type {
	case "log", "none":
		// nothing to configure
	case "nats":
		if c.Events.Nats == nil {
			return fmt.Errorf("events.nats configuration is required when type is 'nats'")
		}
		if c.Events.Nats.NatsCredentials != "" && c.Events.Nats.NatsNkey != "" {
			return fmt.Errorf("events.nats.natsCredentials and events.nats.natsNkey are mutually exclusive")
		}
		if c.Events.Nats.NatsNkey != "" {
			if err := validateNkeySeedFile(c.Events.Nats.NatsNkey); err != nil {
				return fmt.Errorf("events.nats.natsNkey: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported events type: %s", c.Events.Type)
	}

	// Validate server config
	if c.Server.NatsCredentials != "" && c.Server.NatsNkey != "" {
		return fmt.Errorf("server.natsCredentials and server.natsNkey are mutually exclusive")
	}
	if c.Server.NatsNkey != "" {
		if err := validateNkeySeedFile(c.Server.NatsNkey); err != nil {
			return fmt.Errorf("server.natsNkey: %w", err)
		}
	}

	return nil
}

// validateNkeySeedFile parses an nkey seed file so a bad credential
// fails at startup rather than on the first connect.
func validateNkeySeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading nkey seed file: %w", err)
	}
	kp, err := nkeys.ParseDecoratedNKey(data)
	if err != nil {
		return fmt.Errorf("parsing nkey seed: %w", err)
	}
	if _, err := kp.Seed(); err != nil {
		return fmt.Errorf("nkey file does not contain a seed: %w", err)
	}
	return nil
}
