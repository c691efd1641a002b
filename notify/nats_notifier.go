package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "polstore"

// NatsNotifierConfig holds configuration for NatsNotifier.
type NatsNotifierConfig struct {
	// NatsURL is the NATS server URL.
	NatsURL string `json:"natsUrl"`

	// NatsCredentials is the path to a NATS credentials file.
	// Mutually exclusive with NatsNkey.
	NatsCredentials string `json:"natsCredentials,omitempty"`

	// NatsNkey is the path to the nkey seed file for NATS authentication.
	// Mutually exclusive with NatsCredentials.
	NatsNkey string `json:"natsNkey,omitempty"`

	// SubjectPrefix is prepended to event subjects
	// (e.g. "<prefix>.events.created"). Default: "polstore".
	SubjectPrefix string `json:"subjectPrefix,omitempty"`
}

// NatsNotifier publishes change events as JSON messages on NATS subjects.
type NatsNotifier struct {
	nc     *nats.Conn
	prefix string
}

// NewNatsNotifier connects to NATS and returns a notifier.
func NewNatsNotifier(cfg NatsNotifierConfig) (*NatsNotifier, error) {
	if cfg.NatsURL == "" {
		cfg.NatsURL = nats.DefaultURL
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NatsURL = url
	}
	if cfg.NatsCredentials != "" && cfg.NatsNkey != "" {
		return nil, fmt.Errorf("nats notifier: natsCredentials and natsNkey are mutually exclusive")
	}

	opts := []nats.Option{
		nats.Name("polstore-notifier"),
	}
	if cfg.NatsCredentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.NatsCredentials))
	} else if cfg.NatsNkey != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NatsNkey)
		if err != nil {
			return nil, fmt.Errorf("nats notifier: loading nkey from %s: %w", cfg.NatsNkey, err)
		}
		opts = append(opts, opt)
	}

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats notifier: connecting to NATS: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NatsNotifier{nc: nc, prefix: prefix}, nil
}

// Stop flushes pending publishes and closes the connection.
func (n *NatsNotifier) Stop() error {
	if err := n.nc.Flush(); err != nil {
		n.nc.Close()
		return fmt.Errorf("nats notifier: flushing: %w", err)
	}
	n.nc.Close()
	return nil
}

// PolicyCreated publishes the event on "<prefix>.events.created".
func (n *NatsNotifier) PolicyCreated(ctx context.Context, event CreatedEvent) error {
	return n.publish(n.prefix+".events.created", event)
}

// PolicyUpdated publishes the event on "<prefix>.events.updated".
func (n *NatsNotifier) PolicyUpdated(ctx context.Context, event UpdatedEvent) error {
	return n.publish(n.prefix+".events.updated", event)
}

// PolicyDeleted publishes the event on "<prefix>.events.deleted".
func (n *NatsNotifier) PolicyDeleted(ctx context.Context, event DeletedEvent) error {
	return n.publish(n.prefix+".events.deleted", event)
}

func (n *NatsNotifier) publish(subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event for %s: %w", subject, err)
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
