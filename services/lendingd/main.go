package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc/credentials"

	marketconfig "nhblend/config"
	"nhblend/native/fees"
	"nhblend/native/lending"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/oracle"
	"nhblend/observability"
	"nhblend/observability/logging"
	telemetry "nhblend/observability/otel"
	"nhblend/services/lendingd/config"
	"nhblend/services/lendingd/journal"
	"nhblend/services/lendingd/middleware"
	"nhblend/services/lendingd/server"
	"nhblend/state/bank"
	"nhblend/state/lendingstore"
	"nhblend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: "lendingd",
		Env:     cfg.Environment,
		Level:   logging.ParseLevel(cfg.Log.Level),
		File: logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		},
	})
	defer logCloser.Close()
	logger.Info("lendingd starting",
		"listen", cfg.ListenAddress,
		"health_listen", cfg.HealthListenAddress,
		"market_config", cfg.MarketConfig,
		"store_backend", cfg.Store.Backend,
		"journal_driver", cfg.Journal.Driver,
		"journal_dsn", logging.MaskDSN(cfg.Journal.DSN),
		logging.MaskField("jwt_secret", cfg.Auth.HMACSecret),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("lendingd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	store := lendingstore.New(db)

	journalDB, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if sqlDB, err := journalDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	actions := journal.New(journalDB)

	market, err := buildMarket(cfg, store, actions, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Market: market,
		Auth: middleware.AuthConfig{
			HMACSecret:    cfg.Auth.HMACSecret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			OptionalPaths: cfg.Auth.OptionalPaths,
			ClockSkew:     cfg.Auth.ClockSkew,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger:      logger,
		ServiceName: "lendingd",
	})
	if err != nil {
		return err
	}

	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}
	httpListener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if tlsCfg == nil {
		tcpAddr, _ := httpListener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Environment, "dev") && !loopback {
			httpListener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	healthListener, err := net.Listen("tcp", cfg.HealthListenAddress)
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("listen on %s: %w", cfg.HealthListenAddress, err)
	}
	var creds credentials.TransportCredentials
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg.Clone())
	}
	grpcServer, checker := server.NewHealthServer(creds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress, "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = httpServer.ServeTLS(httpListener, "", "")
		} else {
			err = httpServer.Serve(httpListener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("serve http: %w", err)
		}
	}()
	go func() {
		logger.Info("lendingd health listening", "addr", cfg.HealthListenAddress)
		if err := grpcServer.Serve(healthListener); err != nil {
			serverErr <- fmt.Errorf("serve grpc health: %w", err)
		}
	}()
	snapshotCtx, cancelSnapshots := context.WithCancel(ctx)
	defer cancelSnapshots()
	go market.RunSnapshots(snapshotCtx, cfg.Store.SnapshotInterval)
	server.MarkServing(checker, true)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
	}

	server.MarkServing(checker, false)
	cancelSnapshots()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("forcing grpc stop")
		grpcServer.Stop()
	}
	if _, err := market.Snapshot(shutdownCtx, "shutdown"); err != nil {
		logger.Error("final snapshot failed", "error", err)
	}
	return runErr
}

// buildMarket restores the last snapshot when one exists and otherwise
// lists the configured market from scratch.
func buildMarket(cfg config.Config, store *lendingstore.Store, actions *journal.Journal, logger *slog.Logger) (*server.Market, error) {
	market, err := marketconfig.Load(cfg.MarketConfig)
	if err != nil {
		return nil, fmt.Errorf("load market config: %w", err)
	}
	admin, err := market.AdminAddress()
	if err != nil {
		return nil, err
	}
	poolCfg, err := market.PoolConfig()
	if err != nil {
		return nil, err
	}
	ledger := bank.NewLedger()
	prices := oracle.NewStaticOracle()
	pool, err := lending.NewPool(poolCfg, ledger, prices, acl.NewManager(admin))
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	snapshot, seq, err := store.Load()
	switch {
	case err == nil:
		if err := lendingstore.Restore(snapshot, pool, ledger, prices); err != nil {
			return nil, fmt.Errorf("restore snapshot %d: %w", seq, err)
		}
		if err := market.GrantRoles(pool.ACL()); err != nil {
			return nil, err
		}
		logger.Info("market restored", "sequence", seq, "reserves", len(pool.GetReservesList()))
	case errors.Is(err, lendingstore.ErrNoSnapshot):
		if err := marketconfig.Apply(market, pool, prices); err != nil {
			return nil, fmt.Errorf("apply market config: %w", err)
		}
		logger.Info("market listed from config", "reserves", len(pool.GetReservesList()))
	default:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	collector := fees.NewCollector(market.FeePolicy(), ledger)
	pool.SetFeeCollector(collector)
	pool.SetPauses(market.Pauses)
	pool.SetLogger(logger)
	pool.SetMetrics(observability.Lending())
	pool.SetEmitter(actions)

	return server.NewMarket(server.MarketConfig{
		Pool:    pool,
		Ledger:  ledger,
		Prices:  prices,
		Fees:    collector,
		Store:   store,
		Journal: actions,
		Logger:  logger,
	})
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
