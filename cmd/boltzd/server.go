package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/config"
	"github.com/boltz-exchange/boltzd/lightning"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/nursery"
	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swaprepo"
)

// server is the composition root: it owns every long-lived component the
// daemon assembles from config, mirroring the role lnd.go's Main plays of
// wiring chainControl, the wallet, and the peer/RPC servers together,
// narrowed here to a swap nursery's actual dependency graph.
type server struct {
	cfg *config.Config

	db       walletdb.DB
	pgPool   *pgxpool.Pool
	bus      *notification.Bus
	nursery  *nursery.Nursery
	grpcSrv  *grpc.Server
	grpcHealth *health.Server
}

// newServer assembles every component newServer's fields name from cfg, but
// does not start anything; call Start to begin recovery and serving.
func newServer(cfg *config.Config) (*server, error) {
	swaps, reverseSwaps, db, pool, err := buildRepositories(cfg)
	if err != nil {
		return nil, err
	}

	registry := chain.NewRegistry()
	if cfg.Bitcoin.Active {
		if err := registerChain(registry, chain.BitcoinChain, cfg.Bitcoin); err != nil {
			return nil, fmt.Errorf("registering bitcoin chain: %w", err)
		}
	}
	if cfg.Litecoin.Active {
		if err := registerChain(registry, chain.LitecoinChain, cfg.Litecoin); err != nil {
			return nil, fmt.Errorf("registering litecoin chain: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	bus := notification.NewBus(reg)

	oracle := rate.NewStaticOracle(btcutil.Amount(cfg.Rate.StaticFeeRate))
	oracle.SetQuote(rate.Pair("BTC/BTC"), rate.OrderSideSell, rate.Quote{
		Rate:           1,
		BaseFee:        btcutil.Amount(cfg.Rate.BaseFee),
		PercentageFee:  cfg.Rate.PercentageFee,
		ZeroConfMaxAmt: btcutil.Amount(cfg.Rate.MaxZeroConfSat),
	})

	ln := lightning.NewAdapter(unconfiguredLightningClient{})

	n := nursery.New(nursery.Config{
		Chains:           registry,
		Lightning:        ln,
		Swaps:            swaps,
		ReverseSwaps:     reverseSwaps,
		Bus:              bus,
		Oracle:           oracle,
		Wallet:           unconfiguredWallet{},
		MinTimeoutBlocks: cfg.MinTimeoutBlocks,
		ClaimConfTarget:  cfg.ClaimConfTarget,
		LockupConfTarget: cfg.LockupConfTarget,
	})

	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(grpcprometheus.UnaryServerInterceptor),
		grpc.StreamInterceptor(grpcprometheus.StreamServerInterceptor),
	)
	grpcprometheus.Register(grpcSrv)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	srv := &server{
		cfg:        cfg,
		db:         db,
		pgPool:     pool,
		bus:        bus,
		nursery:    n,
		grpcSrv:    grpcSrv,
		grpcHealth: healthSrv,
	}
	return srv, nil
}

// buildRepositories opens the configured swaprepo backend, returning
// whichever of the walletdb.DB handle / pgxpool.Pool applies so Shutdown
// can close it.
func buildRepositories(cfg *config.Config) (swaprepo.SwapRepository, swaprepo.ReverseSwapRepository, walletdb.DB, *pgxpool.Pool, error) {
	switch cfg.Database.Backend {
	case "bolt":
		db, err := walletdb.Create("bdb", cfg.Database.BoltPath, true, time.Second)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening bolt database: %w", err)
		}
		swaps, err := swaprepo.NewBoltSwapRepository(db)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("initializing swap buckets: %w", err)
		}
		reverseSwaps, err := swaprepo.NewBoltReverseSwapRepository(db)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("initializing reverse swap buckets: %w", err)
		}
		return swaps, reverseSwaps, db, nil, nil

	case "postgres":
		if err := swaprepo.Migrate(cfg.Database.PostgresDSN); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("migrating postgres schema: %w", err)
		}
		pool, err := pgxpool.Connect(context.Background(), cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		swaps := swaprepo.NewPostgresSwapRepository(pool)
		reverseSwaps := swaprepo.NewPostgresReverseSwapRepository(pool)
		return swaps, reverseSwaps, nil, pool, nil

	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

// registerChain looks up network params for cc and registers an Entry for
// code backed by the placeholder chain client -- a concrete JSON-RPC/ZMQ
// backend is a deployment's own external collaborator to supply, per this
// system's scope boundary (see unconfiguredChainClient).
func registerChain(registry *chain.Registry, code chain.Code, cc config.ChainConfig) error {
	params, err := chainParams(cc.Network)
	if err != nil {
		return err
	}

	client := &unconfiguredChainClient{symbol: cc.Symbol}
	observer := chain.NewObserver(client)

	registry.Register(&chain.Entry{
		Code:         code,
		Params:       params,
		Client:       client,
		Observer:     observer,
		Capabilities: client.Capabilities(),
	})
	return nil
}

func chainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// Start runs nursery recovery and begins serving the ambient gRPC surface
// (health checks, reflection, Prometheus metrics interceptors -- no swap
// business RPCs, which remain out of scope per this system's own charter).
func (s *server) Start(ctx context.Context) error {
	if err := s.nursery.Start(ctx); err != nil {
		return fmt.Errorf("starting nursery: %w", err)
	}
	s.bus.Start()

	s.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", s.cfg.RPCListen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.RPCListen, err)
	}

	go func() {
		if err := s.grpcSrv.Serve(lis); err != nil {
			log.Errorf("gRPC server exited: %v", err)
		}
	}()

	log.Infof("boltzd listening on %s", s.cfg.RPCListen)
	return nil
}

// Shutdown stops the gRPC server, then the nursery, then the bus, and finally
// closes whichever database handle or Postgres pool is open.
func (s *server) Shutdown() {
	s.grpcSrv.GracefulStop()
	s.nursery.Stop()
	s.bus.Stop()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Errorf("closing database: %v", err)
		}
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
}
