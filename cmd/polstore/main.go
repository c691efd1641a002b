// Package main provides the CLI for the polstore policy service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/msimon/polstore/manager"
	"github.com/msimon/polstore/notify"
	"github.com/msimon/polstore/service"
	"github.com/msimon/polstore/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-h", "-help", "--help", "help":
			printUsage()
			return nil
		}
	}

	return runServe(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [options]

Run the polstore policy service.

Use '%s -h' for more information.
`, os.Args[0], os.Args[0])
}

// envOrDefault returns the environment variable value if set, otherwise the default.
func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("polstore", flag.ExitOnError)

	var configPath string

	fs.StringVar(&configPath, "c", envOrDefault("POLSTORE_CONFIG", ""), "Path to configuration file")
	fs.StringVar(&configPath, "config", envOrDefault("POLSTORE_CONFIG", ""), "Path to configuration file")

	fs.Usage = func() {
		printServiceUsage(fs)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, stopStore, err := buildStore(config)
	if err != nil {
		return err
	}
	defer stopStore()

	notifier, stopNotifier, err := buildNotifier(config)
	if err != nil {
		return err
	}
	defer stopNotifier()

	mgr := manager.New(st, manager.WithNotifier(notifier))

	svc, err := service.New(mgr, config.Server)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	ctx, cancel := setupSignalHandler(func() {
		_ = svc.Stop()
	})
	defer cancel()

	// Start the API service (blocks until shutdown)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("running policy service: %w", err)
	}

	return nil
}

func loadConfig(configPath string) (*service.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("-c/--config is required")
	}

	config, err := service.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return config, nil
}

// buildStore constructs the configured persistence backend and a stop
// function for it.
func buildStore(config *service.Config) (store.Store, func(), error) {
	switch config.Store.Type {
	case "nats":
		s, err := store.NewNatsStore(*config.Store.Nats)
		if err != nil {
			return nil, nil, fmt.Errorf("creating nats store: %w", err)
		}
		return s, func() { _ = s.Stop() }, nil
	default: // "memory", enforced by config.Validate
		return store.NewMemoryStore(), func() {}, nil
	}
}

// buildNotifier constructs the configured event sink and a stop function
// for it.
func buildNotifier(config *service.Config) (notify.Notifier, func(), error) {
	switch config.Events.Type {
	case "nats":
		n, err := notify.NewNatsNotifier(*config.Events.Nats)
		if err != nil {
			return nil, nil, fmt.Errorf("creating nats notifier: %w", err)
		}
		return n, func() { _ = n.Stop() }, nil
	case "none":
		return notify.Nop{}, func() {}, nil
	default: // "log", enforced by config.Validate
		return notify.LogNotifier{}, func() {}, nil
	}
}

func setupSignalHandler(onStop func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
		cancel()
		if onStop != nil {
			onStop()
		}
	}()

	return ctx, cancel
}

func printServiceUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Run the polstore policy service.\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
	fmt.Fprintf(os.Stderr, "  POLSTORE_CONFIG    Path to configuration file\n")
	fmt.Fprintf(os.Stderr, "  NATS_URL           Overrides every configured NATS URL\n")
	fmt.Fprintf(os.Stderr, "\nExample:\n")
	fmt.Fprintf(os.Stderr, "  %s -c config.json\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nConfiguration file format (JSON):\n")
	fmt.Fprintf(os.Stderr, `  {
    "store": {
      "type": "nats",
      "nats": { "bucket": "policies", "natsUrl": "nats://localhost:4222" }
    },
    "events": {
      "type": "nats",
      "nats": { "natsUrl": "nats://localhost:4222", "subjectPrefix": "polstore" }
    },
    "server": {
      "natsUrl": "nats://localhost:4222",
      "subjectPrefix": "polstore"
    }
  }
`)
}
