// Package config loads boltzd's on-disk and command-line configuration,
// following the same go-flags-over-an-ini-file shape lnd's
// lnd.go describes for loadConfig: defaults first, then an ini file, then
// the command line, each layer overriding the last.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "boltzd.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "boltzd.log"
	defaultLogLevel       = "info"
	defaultRPCListen      = "localhost:9000"
	defaultDatabaseBackend = "bolt"
	defaultMinTimeoutBlocks = 10
	defaultClaimConfTarget  = 2
	defaultLockupConfTarget = 2
	defaultMaxZeroConfSat   = 1_000_000
)

var defaultBoltzDir = btcutil.AppDataDir("boltzd", false)

// ChainConfig describes how to reach one base chain's RPC/ZMQ backend.
// Modeled on lnd's bitcoinConfig/litecoinConfig pair in its
// (not carried over) chain-specific config blocks, generalized to a single
// reusable shape selected by Symbol.
type ChainConfig struct {
	Active  bool   `long:"active" description:"whether this chain is enabled"`
	Symbol  string `long:"symbol" description:"BTC or LTC"`
	Network string `long:"network" description:"mainnet, testnet, regtest, or simnet"`

	RPCHost string `long:"rpchost" description:"chain backend RPC host:port"`
	RPCUser string `long:"rpcuser" description:"chain backend RPC username"`
	RPCPass string `long:"rpcpass" description:"chain backend RPC password"`

	ZMQPubRawTx   string `long:"zmqpubrawtx" description:"ZMQ raw transaction publish address"`
	ZMQPubRawBlock string `long:"zmqpubrawblock" description:"ZMQ raw block publish address"`
}

// LightningConfig describes how to reach the Lightning node the service
// pays invoices through and issues hold invoices from.
type LightningConfig struct {
	Host         string `long:"host" description:"Lightning node RPC host:port"`
	MacaroonPath string `long:"macaroonpath" description:"path to the macaroon used to authenticate"`
	TLSCertPath  string `long:"tlscertpath" description:"path to the node's TLS certificate"`
}

// DatabaseConfig selects and configures the swaprepo backend: an embedded
// bolt store, or a Postgres connection pool with golang-migrate managing
// schema migrations.
type DatabaseConfig struct {
	Backend string `long:"backend" description:"bolt or postgres"`

	BoltPath string `long:"boltpath" description:"path to the bolt database file"`

	PostgresDSN           string `long:"postgres.dsn" description:"Postgres connection string"`
	PostgresMigrationsPath string `long:"postgres.migrations" description:"path to the golang-migrate migrations directory"`
}

// RateConfig parameterizes the static fee-rate oracle. A real market-data
// oracle is out of scope; this is the black-box feed the nursery consumes.
type RateConfig struct {
	StaticFeeRate  int64 `long:"staticfeerate" description:"static fee rate in sat/vByte used when no estimator is configured"`
	BaseFee        int64 `long:"basefee" description:"flat fee in satoshis charged per swap"`
	PercentageFee  float64 `long:"percentagefee" description:"percentage fee charged per swap"`
	MaxZeroConfSat int64 `long:"maxzeroconfsat" description:"maximum lockup amount, in satoshis, accepted without confirmation"`
}

// Config is the fully resolved configuration for the boltzd daemon.
// Grounded on lnd's top-level config struct that loadConfig
// populates in lnd.go, trimmed to a swap nursery's actual dependencies
// (chain backends, a Lightning node, a repository backend, a rate oracle)
// instead of a full node's peer/wallet/channel configuration surface.
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"display version and exit"`

	BoltzDir   string `long:"boltzdir" description:"base directory for data and logs"`
	ConfigFile string `long:"configfile" description:"path to configuration file"`
	DataDir    string `long:"datadir" description:"directory to store swap data in"`
	LogDir     string `long:"logdir" description:"directory to log output to"`
	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems"`

	RPCListen string `long:"rpclisten" description:"host:port the ambient gRPC server listens on"`

	Bitcoin  ChainConfig     `group:"Bitcoin" namespace:"bitcoin"`
	Litecoin ChainConfig     `group:"Litecoin" namespace:"litecoin"`
	Lightning LightningConfig `group:"Lightning" namespace:"lightning"`
	Database DatabaseConfig  `group:"Database" namespace:"db"`
	Rate     RateConfig      `group:"Rate" namespace:"rate"`

	MinTimeoutBlocks uint32 `long:"mintimeoutblocks" description:"minimum blocks a swap's timeout must keep from the chain tip"`
	ClaimConfTarget  uint32 `long:"claimconftarget" description:"confirmation target for claim/refund transactions"`
	LockupConfTarget uint32 `long:"lockupconftarget" description:"confirmation target for reverse swap lockup transactions"`
}

// defaultConfig returns a Config populated with the same defaults lnd.go's
// loadConfig seeds before reading the ini file and command line, so every
// field has a sane value even in an empty deployment.
func defaultConfig() Config {
	return Config{
		BoltzDir:   defaultBoltzDir,
		ConfigFile: filepath.Join(defaultBoltzDir, defaultConfigFilename),
		DataDir:    filepath.Join(defaultBoltzDir, defaultDataDirname),
		LogDir:     filepath.Join(defaultBoltzDir, defaultLogDirname),
		DebugLevel: defaultLogLevel,
		RPCListen:  defaultRPCListen,

		Bitcoin: ChainConfig{
			Active:  true,
			Symbol:  "BTC",
			Network: "mainnet",
		},
		Litecoin: ChainConfig{
			Symbol:  "LTC",
			Network: "mainnet",
		},
		Database: DatabaseConfig{
			Backend:  defaultDatabaseBackend,
			BoltPath: filepath.Join(defaultBoltzDir, defaultDataDirname, "boltz.db"),
		},
		Rate: RateConfig{
			MaxZeroConfSat: defaultMaxZeroConfSat,
		},

		MinTimeoutBlocks: defaultMinTimeoutBlocks,
		ClaimConfTarget:  defaultClaimConfTarget,
		LockupConfTarget: defaultLockupConfTarget,
	}
}

// LoadConfig reads defaults, then the ini file at ConfigFile (if present),
// then the command line in args, mirroring lnd.go's three-layer precedence.
// It returns flags.ErrHelp unmodified so callers can special-case it and
// exit cleanly, the way lndMain checks for *flags.Error{Type: ErrHelp}.
func LoadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()

	preCfg := cfg
	parser := flags.NewParser(&preCfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if preCfg.ConfigFile != "" {
		cfg.ConfigFile = preCfg.ConfigFile
	}
	if preCfg.BoltzDir != defaultBoltzDir {
		cfg.BoltzDir = preCfg.BoltzDir
		cfg.DataDir = filepath.Join(cfg.BoltzDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(cfg.BoltzDir, defaultLogDirname)
		cfg.Database.BoltPath = filepath.Join(cfg.DataDir, "boltz.db")
		if preCfg.ConfigFile == filepath.Join(defaultBoltzDir, defaultConfigFilename) {
			cfg.ConfigFile = filepath.Join(cfg.BoltzDir, defaultConfigFilename)
		}
	}

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		iniParser := flags.NewIniParser(flags.NewParser(&cfg, flags.Default))
		if err := iniParser.ParseFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", cfg.ConfigFile, err)
		}
	}

	parser = flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Backend {
	case "bolt", "postgres":
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("db.postgres.dsn is required when db.backend is postgres")
	}
	if c.MinTimeoutBlocks == 0 {
		return fmt.Errorf("mintimeoutblocks must be greater than zero")
	}
	if !c.Bitcoin.Active && !c.Litecoin.Active {
		return fmt.Errorf("at least one of bitcoin or litecoin must be active")
	}
	return nil
}
