package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/lightning"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/nursery"
	"github.com/boltz-exchange/boltzd/swap"
	"github.com/boltz-exchange/boltzd/swaprepo"
	"github.com/boltz-exchange/boltzd/walletrpc"
)

// logRotator is the rotating file backend every subsystem logger writes
// through, following lnd's own log.go: stdout and
// a size-rotated file, both fed by the same io.Writer.
var logRotator *rotator.Rotator

// logWriter fans every log line out to stdout and the rotator, the same
// dual-sink shape lnd's logWriter uses.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

const maxLogFileSize = 10 * 1024 // KiB
const maxLogFiles = 3
const logFilename = "boltzd.log"

// initLogRotator starts a rotator writing to logFile, rotating once it
// exceeds maxLogFileSize and keeping at most maxLogFiles old copies.
func initLogRotator(logFile string) error {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	r, err := rotator.New(logFile, maxLogFileSize, false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("creating log rotator: %w", err)
	}
	logRotator = r
	return nil
}

// log is this package's own subsystem logger, the daemon-level counterpart
// to the per-package loggers initLogging wires below.
var log = btclog.Disabled

// subsystemLoggers names every package this daemon wires a logger into,
// following lnd.go's subsystemLoggers map that backendLog.Logger-and-
// UseLogger wires each package's subsystem tag through.
var subsystemLoggers = map[string]func(btclog.Logger){
	"CHAN": chain.UseLogger,
	"NURS": nursery.UseLogger,
	"LTNG": lightning.UseLogger,
	"NTFN": notification.UseLogger,
	"SRPO": swaprepo.UseLogger,
	"WLLT": walletrpc.UseLogger,
	"SWAP": swap.UseLogger,
}

// initLogging wires the rotating backend into every subsystem logger at
// level, the daemon-wide counterpart to each package's own UseLogger hook.
func initLogging(level string) error {
	backend := btclog.NewBackend(logWriter{})

	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	for tag, use := range subsystemLoggers {
		logger := backend.Logger(tag)
		logger.SetLevel(lvl)
		use(logger)
	}

	log = backend.Logger("BTZD")
	log.SetLevel(lvl)

	return nil
}
