package swap

import "github.com/btcsuite/btclog"

// log is the package-level logger used throughout swap. It defaults to a
// disabled backend and is wired up by the daemon via UseLogger, following
// the subsystem-logger convention used across this codebase's packages.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the swap package. It
// should be called before any exported function in this package is used.
func UseLogger(logger btclog.Logger) {
	log = logger
}
