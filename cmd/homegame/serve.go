package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bricerising/homegame/internal/auth"
	"github.com/bricerising/homegame/internal/broadcast"
	"github.com/bricerising/homegame/internal/events"
	"github.com/bricerising/homegame/internal/gateway"
	"github.com/bricerising/homegame/internal/ledger"
	"github.com/bricerising/homegame/internal/metrics"
	"github.com/bricerising/homegame/internal/rpc"
	"github.com/bricerising/homegame/internal/store"
	"github.com/bricerising/homegame/internal/table"
)

// ServeCmd runs the RPC listener, the WebSocket gateway and the metrics
// endpoint in one process.
type ServeCmd struct {
	Addr        string `kong:"default=':8080',env='HOMEGAME_ADDR',help='RPC listen address'"`
	GatewayAddr string `kong:"default=':8081',env='HOMEGAME_GATEWAY_ADDR',help='WebSocket gateway listen address'"`
	MetricsAddr string `kong:"default=':9090',env='HOMEGAME_METRICS_ADDR',help='Prometheus metrics listen address'"`
	RedisURL    string `kong:"env='HOMEGAME_REDIS_URL',help='Redis URL; empty runs single-node with in-memory state'"`
	LedgerURL   string `kong:"env='HOMEGAME_LEDGER_URL',help='Chip ledger service base URL; empty approves everything'"`
	EventsURL   string `kong:"env='HOMEGAME_EVENTS_URL',help='Event store base URL; empty drops events'"`
	JWTSecret   string `kong:"env='HOMEGAME_JWT_SECRET',help='HS256 secret for gateway tokens'"`
	TrustProxy  bool   `kong:"env='HOMEGAME_TRUST_PROXY',help='Read client addresses from X-Forwarded-For'"`
	Config      string `kong:"env='HOMEGAME_CONFIG',help='Optional HCL preset file with tables to create at boot'"`
	Debug       bool   `kong:"env='HOMEGAME_DEBUG',help='Enable debug logging'"`
}

func (c *ServeCmd) Run() error {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if c.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	var (
		st  store.Store
		ss  store.SessionStore
		bus broadcast.Bus
	)
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		rs := store.NewRedis(client)
		st, ss = rs, rs
		bus = broadcast.NewRedisBus(client, logger.WithPrefix("bus"))
	} else {
		logger.Warn("no redis configured, running with in-memory state")
		mem := store.NewMemory(nil)
		st, ss = mem, mem
		bus = broadcast.NewMemoryBus()
	}

	var ledgerClient ledger.Client = ledger.Nop{}
	if c.LedgerURL != "" {
		ledgerClient = ledger.NewHTTPClient(c.LedgerURL, logger.WithPrefix("ledger"))
	}

	var publisher events.Publisher = events.Nop{}
	var processor *events.Processor
	if c.EventsURL != "" {
		processor = events.NewProcessor(events.NewHTTPSink(c.EventsURL), logger.WithPrefix("events"), 4, 1024)
		publisher = processor
	}

	var validator auth.Validator
	if c.JWTSecret != "" {
		validator = auth.NewJWTValidator(c.JWTSecret)
	} else {
		logger.Warn("no JWT secret configured, gateway will reject all tokens")
		validator = auth.StaticValidator{}
	}

	m := metrics.New()
	sourceID := uuid.NewString()
	orch := table.NewOrchestrator(table.Deps{
		Store:     st,
		Ledger:    ledgerClient,
		Events:    publisher,
		Broadcast: broadcast.NewBroadcaster(bus, sourceID, logger.WithPrefix("broadcast")),
		Metrics:   m,
		Log:       logger.WithPrefix("table"),
	})

	if c.Config != "" {
		if err := applyPresets(context.Background(), orch, c.Config, logger); err != nil {
			return err
		}
	}

	rpcServer := rpc.NewServer(orch, st, m, nil, logger.WithPrefix("rpc"))
	gw := gateway.New(gateway.Deps{
		Orchestrator: orch,
		Sessions:     ss,
		Bus:          bus,
		Validator:    validator,
		Events:       publisher,
		Metrics:      m,
		Log:          logger.WithPrefix("gateway"),
		TrustProxy:   c.TrustProxy,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return serveHTTP(ctx, "rpc", c.Addr, rpcServer.Handler(), logger) })
	group.Go(func() error { return serveHTTP(ctx, "gateway", c.GatewayAddr, gw.Handler(), logger) })
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	group.Go(func() error { return serveHTTP(ctx, "metrics", c.MetricsAddr, metricsMux, logger) })
	group.Go(func() error {
		err := gw.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	logger.Info("homegame serving",
		"rpc", c.Addr,
		"gateway", c.GatewayAddr,
		"metrics", c.MetricsAddr,
		"redis", c.RedisURL != "",
		"ledger", c.LedgerURL != "",
	)

	err := group.Wait()
	orch.Close()
	if processor != nil {
		processor.Close()
	}
	return err
}

func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("listener shutdown failed", "listener", name, "err", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s listener: %w", name, err)
	}
}
