// Command boltzd runs the swap-coordination nursery: it watches configured
// base chains and a Lightning node, advances submarine and reverse
// submarine swaps through their state machines, and exposes the ambient
// health/reflection/metrics surface described in this repository's own
// scope boundary -- the swap-specific RPC surface is a deployment's own
// integration to build against the nursery's Go API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"github.com/boltz-exchange/boltzd/config"
)

func boltzdMain() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return fmt.Errorf("loading config: %w", err)
	}

	if err := initLogRotator(filepath.Join(cfg.LogDir, logFilename)); err != nil {
		return err
	}
	if err := initLogging(cfg.DebugLevel); err != nil {
		return err
	}

	log.Infof("starting boltzd, data dir %s", cfg.DataDir)

	srv, err := newServer(cfg)
	if err != nil {
		return fmt.Errorf("assembling server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Infof("shutting down boltzd")
	srv.Shutdown()
	return nil
}

func main() {
	if err := boltzdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
