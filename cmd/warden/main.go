// The warden daemon supervises game servers on the machine it runs on and
// exposes their lifecycle over an encrypted TCP protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/wardenhost/warden/internal"
	"github.com/wardenhost/warden/internal/core"
)

var configPath = flag.String("config", ".", "Path to the directory containing the config file")

func main() {
	flag.Parse()

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %s\n", err)
		os.Exit(1)
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Printf("failed to initialize logger: %s\n", err)
		os.Exit(1)
	}

	// Two daemons driving the same server directories would corrupt them, so
	// refuse to start unless we're the only instance.
	lock := flock.New(config.LockFilePath)
	locked, err := lock.TryLock()
	if err != nil {
		logger.Errorf("failed to acquire lock file %s: %v", config.LockFilePath, err)
		os.Exit(1)
	}
	if !locked {
		logger.Errorf("another instance is already running (lock file %s is held)", config.LockFilePath)
		os.Exit(1)
	}
	defer lock.Unlock()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	controller := &internal.Controller{
		Config: config,
		Logger: logger,
	}
	if err := controller.Start(ctx); err != nil {
		logger.Errorf("daemon exited with error: %v", err)
		os.Exit(1)
	}
}
