// Command cntrade runs the A-share trade adapter: a gateway connection, the
// trade client with push reconciliation, and the HTTP control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/cntrade/internal/app/trade"
	"github.com/coachpo/cntrade/internal/domain/schema"
	"github.com/coachpo/cntrade/internal/infra/bus/redisbus"
	"github.com/coachpo/cntrade/internal/infra/config"
	"github.com/coachpo/cntrade/internal/infra/persistence/migrations"
	"github.com/coachpo/cntrade/internal/infra/persistence/postgres"
	"github.com/coachpo/cntrade/internal/infra/protocol"
	httpserver "github.com/coachpo/cntrade/internal/infra/server/http"
	"github.com/coachpo/cntrade/internal/infra/telemetry"
	"github.com/coachpo/cntrade/internal/infra/transport"
	"github.com/coachpo/cntrade/internal/observability"
)

const (
	defaultConfigPath            = "config/app.yaml"
	defaultEnvFile               = ".env"
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	gatewayShutdownTimeout       = 5 * time.Second
	clientShutdownTimeout        = 10 * time.Second
	publisherShutdownTimeout     = 5 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
	startupUnlockTimeout         = 15 * time.Second
)

func main() {
	cfgPathFlag, envFileFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	appCfg, err := config.Load(ctx, resolveConfigPath(cfgPathFlag), envFileFlag)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := newLogger(appCfg.Log)
	observability.SetLogger(observability.NewStdLogger(logger, appCfg.Log.Debug))
	logger.Printf("configuration initialised: env=%s, gateway=%s, region=%s",
		appCfg.Environment, appCfg.Gateway.Addr, appCfg.Trade.Region)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, err := openJournal(ctx, logger, appCfg.Database)
	if err != nil {
		logger.Fatalf("initialise journal: %v", err)
	}

	publisher, err := openPublisher(ctx, logger, appCfg.Redis)
	if err != nil {
		logger.Fatalf("initialise push publisher: %v", err)
	}

	gateway, err := transport.NewGateway(gatewayOptions(appCfg.Gateway, logger))
	if err != nil {
		logger.Fatalf("initialise gateway transport: %v", err)
	}

	tradeOpts := tradeOptions(appCfg, logger)
	if store != nil {
		tradeOpts.Journal = store.Journal()
	}
	client, err := trade.NewClient(gateway, tradeOpts)
	if err != nil {
		logger.Fatalf("initialise trade client: %v", err)
	}
	gateway.SetHandler(client)
	if publisher != nil {
		client.SetListener(publisher)
	} else {
		client.SetListener(logListener{logger: observability.Log()})
	}

	if err := gateway.Start(ctx); err != nil {
		logger.Fatalf("connect gateway: %v", err)
	}
	logger.Printf("gateway connected: id=%s", gateway.ConnectionID())

	if appCfg.Unlock.HasSecret() {
		unlockAtStartup(ctx, logger, client, appCfg.Unlock)
	}

	var lifecycle conc.WaitGroup
	var apiServer *http.Server
	if appCfg.APIServer.Addr != "" {
		handlerOpts := httpserver.Options{
			Trade:          client,
			Status:         gateway,
			RequestTimeout: appCfg.Gateway.RequestTimeout + 5*time.Second,
		}
		if store != nil {
			handlerOpts.Journal = store.Journal()
		}
		apiServer = buildAPIServer(appCfg.APIServer, httpserver.NewHandler(handlerOpts))
		startAPIServer(&lifecycle, logger, apiServer)
		logger.Printf("control API listening on %s", apiServer.Addr)
	}

	logger.Print("cntrade started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		gateway:    gateway,
		client:     client,
		publisher:  publisher,
		store:      store,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	envFile := flag.String("env-file", defaultEnvFile, "Optional dotenv file with secrets")
	flag.Parse()
	return *cfgPath, *envFile
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger(cfg config.LogConfig) *log.Logger {
	return log.New(os.Stdout, cfg.Prefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.Enabled = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func openJournal(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig) (*postgres.Store, error) {
	if !cfg.Enabled {
		logger.Print("journal disabled")
		return nil, nil
	}
	if cfg.RunMigrations {
		if err := migrations.Apply(ctx, cfg.DSN, "", logger); err != nil {
			return nil, err
		}
	}
	store, err := postgres.Open(ctx, postgres.PoolConfig{
		DSN:               cfg.DSN,
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("journal connected: maxConns=%d", cfg.MaxConns)
	return store, nil
}

func openPublisher(ctx context.Context, logger *log.Logger, cfg config.RedisConfig) (*redisbus.Publisher, error) {
	if !cfg.Enabled {
		logger.Print("push publisher disabled")
		return nil, nil
	}
	publisher, err := redisbus.Dial(ctx, redisbus.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		Channel:  cfg.Channel,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("push publisher connected: addr=%s channel=%s", cfg.Addr, publisher.Channel())
	return publisher, nil
}

func gatewayOptions(cfg config.GatewayConfig, logger *log.Logger) transport.Options {
	return transport.Options{
		Addr:                 cfg.Addr,
		DialTimeout:          cfg.DialTimeout,
		WriteTimeout:         cfg.WriteTimeout,
		RequestTimeout:       cfg.RequestTimeout,
		StartTimeout:         cfg.StartTimeout,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectInterval: cfg.MaxReconnectInterval,
		ReadLimit:            cfg.ReadLimitBytes,
		SendRate:             cfg.SendRate,
		SendBurst:            cfg.SendBurst,
		Logger:               logger,
	}
}

func tradeOptions(cfg config.AppConfig, logger *log.Logger) trade.Options {
	terminal := make([]schema.OrderStatus, 0, len(cfg.Trade.TerminalStatuses))
	for _, status := range cfg.Trade.TerminalStatuses {
		terminal = append(terminal, schema.OrderStatus(status))
	}
	return trade.Options{
		Cookie:           cfg.Trade.Cookie,
		Region:           cfg.Trade.Region,
		TerminalStatuses: terminal,
		Unlock: trade.UnlockPolicy{
			Attempts: cfg.Unlock.Attempts,
			Delay:    cfg.Unlock.Delay,
		},
		OrderThrottle: cfg.Trade.OrderThrottle,
		OrderBurst:    cfg.Trade.OrderBurst,
		StateRetries:  cfg.Trade.StateRetries,
		StateInterval: cfg.Trade.StateInterval,
		JournalQueue:  cfg.Trade.JournalQueue,
		Logger:        logger,
	}
}

func unlockAtStartup(ctx context.Context, logger *log.Logger, client *trade.Client, cfg config.UnlockConfig) {
	unlockCtx, cancel := context.WithTimeout(ctx, startupUnlockTimeout)
	defer cancel()
	err := client.Unlock(unlockCtx, protocol.Credentials{
		Password:    cfg.Password,
		PasswordMD5: cfg.PasswordMD5,
	})
	if err != nil {
		logger.Printf("startup unlock failed: %v", err)
		return
	}
	logger.Print("trading unlocked")
}

func buildAPIServer(cfg config.APIServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	gateway    *transport.Gateway
	client     *trade.Client
	publisher  *redisbus.Publisher
	store      *postgres.Store
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return waitOrTimeout(stepCtx, cfg.lifecycle.Wait)
		})
	}

	if cfg.gateway != nil {
		shutdownStep("closing gateway connection", gatewayShutdownTimeout, func(stepCtx context.Context) error {
			var err error
			waitErr := waitOrTimeout(stepCtx, func() { err = cfg.gateway.Close() })
			if waitErr != nil {
				return waitErr
			}
			return err
		})
	}

	if cfg.client != nil {
		shutdownStep("draining trade client", clientShutdownTimeout, func(stepCtx context.Context) error {
			return waitOrTimeout(stepCtx, cfg.client.Close)
		})
	}

	if cfg.publisher != nil {
		shutdownStep("closing push publisher", publisherShutdownTimeout, func(stepCtx context.Context) error {
			var err error
			waitErr := waitOrTimeout(stepCtx, func() { err = cfg.publisher.Close() })
			if waitErr != nil {
				return waitErr
			}
			return err
		})
	}

	if cfg.store != nil {
		logger.Print("shutdown: closing journal pool")
		cfg.store.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

// waitOrTimeout runs fn and returns once it finishes or ctx expires.
func waitOrTimeout(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}
