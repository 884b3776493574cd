package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-trade-indexer/internal/blockstream"
	"solana-trade-indexer/internal/domain"
	"solana-trade-indexer/internal/eventbus"
	"solana-trade-indexer/internal/observability"
	"solana-trade-indexer/internal/parser"
	"solana-trade-indexer/internal/pipeline"
	"solana-trade-indexer/internal/storage"
	chstore "solana-trade-indexer/internal/storage/clickhouse"
	"solana-trade-indexer/internal/storage/memory"
	"solana-trade-indexer/internal/storage/migrations"
	pgstore "solana-trade-indexer/internal/storage/postgres"
)

func main() {
	wsEndpoint := flag.String("ws-endpoint", "", "Block stream WebSocket endpoint")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Solana RPC HTTP endpoint (backfill and tip reads)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "Optional ClickHouse DSN for the candle mirror")
	redisAddr := flag.String("redis-addr", "", "Optional Redis address for the event bus")
	redisPrefix := flag.String("redis-prefix", "indexer:", "Redis stream key prefix")
	streamID := flag.String("stream-id", "mainnet", "Checkpoint stream identifier")
	startSlot := flag.Int64("start-slot", 0, "Start slot override (0 resumes from checkpoint)")
	gapPolicy := flag.String("gap-policy", "repair", "Slot gap policy: repair or accept")
	timeframes := flag.String("timeframes", "60,300,900,3600", "Comma-separated candle timeframes in seconds")
	programs := flag.String("programs", "spl,bonding,amm,dlmm", "Comma-separated protocol parsers to enable")
	trackedMints := flag.String("tracked-mints", "", "Comma-separated mint whitelist (empty tracks all)")
	liveLag := flag.Int64("live-lag-slots", 50, "Checkpoint lag behind tip that still counts as live")
	workers := flag.Int("parse-workers", 4, "Per-transaction parse workers")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	policy, err := blockstream.ParseGapPolicy(*gapPolicy)
	if err != nil {
		logger.Fatalf("Invalid --gap-policy: %v", err)
	}
	frames, err := parseTimeframes(*timeframes)
	if err != nil {
		logger.Fatalf("Invalid --timeframes: %v", err)
	}

	metrics := observability.NewMetrics("")
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, logger, metrics, runConfig{
		wsEndpoint:    *wsEndpoint,
		rpcEndpoint:   *rpcEndpoint,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		redisAddr:     *redisAddr,
		redisPrefix:   *redisPrefix,
		streamID:      *streamID,
		startSlot:     *startSlot,
		policy:        policy,
		timeframes:    frames,
		programs:      splitList(*programs),
		trackedMints:  splitList(*trackedMints),
		liveLagSlots:  *liveLag,
		workers:       *workers,
		useMemory:     *useMemory,
	})

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

type runConfig struct {
	wsEndpoint    string
	rpcEndpoint   string
	postgresDSN   string
	clickhouseDSN string
	redisAddr     string
	redisPrefix   string
	streamID      string
	startSlot     int64
	policy        blockstream.GapPolicy
	timeframes    []int64
	programs      []string
	trackedMints  []string
	liveLagSlots  int64
	workers       int
	useMemory     bool
}

func run(ctx context.Context, logger *log.Logger, metrics *observability.Metrics, cfg runConfig) error {
	// Storage.
	var store storage.Store = memory.NewStore()
	if !cfg.useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		store = pgstore.NewStore(pool)
	}

	// Post-commit fan-out: in-process bus always, Redis and ClickHouse
	// mirrors when configured.
	publishers := []eventbus.Publisher{eventbus.NewBus(logger)}

	if cfg.redisAddr != "" {
		cli := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		if err := cli.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer cli.Close()

		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Prefix = cfg.redisPrefix
		publishers = append(publishers, eventbus.NewRedisPublisher(cli, redisCfg))
		logger.Printf("Publishing to Redis Streams at %s", cfg.redisAddr)
	}

	if cfg.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer conn.Close()

		sink := chstore.NewCandleSink(conn)
		publishers = append(publishers, candleMirror{sink: sink})
		logger.Println("Mirroring candles to ClickHouse")
	}
	fanout := eventbus.NewFanout(logger, publishers...)
	fanout.OnError = func(sink string) {
		metrics.PublishErrors.WithLabelValues(sink).Inc()
	}

	// Parsers. The registry resolves plain SPL transfers and mint
	// decimals from observed account initializations.
	registry := parser.NewTokenRegistry()
	parsers, err := selectParsers(cfg.programs, registry)
	if err != nil {
		return err
	}
	router, err := parser.NewRouter(logger, cfg.trackedMints, parsers...)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	router.Hooks = parser.RouterHooks{
		OnParseError:     func(program string) { metrics.ParseErrors.WithLabelValues(program).Inc() },
		OnUnknownProgram: func(string) { metrics.UnknownPrograms.Inc() },
		OnWhitelistDrop:  func(string) { metrics.WhitelistDropped.Inc() },
	}

	// Writer: PDAs stay out of wallet balances, negative balances are
	// counted, never clamped.
	writerCfg := pipeline.DefaultWriterConfig()
	writerCfg.StreamID = cfg.streamID
	writerCfg.Timeframes = cfg.timeframes
	writerCfg.KeepOwner = parser.IsOnCurve
	writerCfg.Decimals = registry.Decimals
	writerCfg.Logger = logger
	writer := pipeline.NewWriter(store, writerCfg)

	// Block stream: live WebSocket source, RPC backfill for repairs.
	rpcSource := blockstream.NewRPCSource(cfg.rpcEndpoint, nil)
	wsSource := blockstream.NewWSSource(cfg.wsEndpoint, nil)

	runnerCfg := pipeline.DefaultRunnerConfig()
	runnerCfg.StartSlot = cfg.startSlot
	runnerCfg.LiveLagSlots = cfg.liveLagSlots
	runnerCfg.Workers = cfg.workers
	runnerCfg.Logger = logger

	var runner *pipeline.Runner
	clientCfg := blockstream.DefaultClientConfig()
	clientCfg.Policy = cfg.policy
	clientCfg.Logger = logger
	clientCfg.OnGap = func(gap blockstream.SlotGap) { runner.OnGap(gap) }
	clientCfg.OnRepair = func(active bool) { runner.OnRepair(active) }
	clientCfg.OnReconnect = func() { runner.OnReconnect() }
	client := blockstream.NewClient(wsSource, rpcSource, clientCfg)

	runner = pipeline.NewRunner(client, rpcSource, router, writer, fanout, metrics, runnerCfg)

	logger.Printf("Starting indexer on stream %q (gap policy %s)", cfg.streamID, cfg.policy)
	return runner.Run(ctx)
}

// candleMirror adapts the ClickHouse sink to the Publisher interface.
type candleMirror struct {
	sink *chstore.CandleSink
}

var _ eventbus.Publisher = candleMirror{}

func (m candleMirror) PublishEvents(ctx context.Context, events []*domain.NormalizedEvent) error {
	return nil
}

func (m candleMirror) PublishCandles(ctx context.Context, candles []domain.Candle) error {
	return m.sink.InsertCandles(ctx, candles)
}

func selectParsers(aliases []string, registry *parser.TokenRegistry) ([]parser.Parser, error) {
	var out []parser.Parser
	for _, alias := range aliases {
		switch alias {
		case "spl":
			out = append(out, parser.NewSPLTokenParser(registry))
		case "bonding":
			out = append(out, parser.NewBondingCurveParser())
		case "amm":
			out = append(out, parser.NewAMMSwapParser())
		case "dlmm":
			out = append(out, parser.NewDLMMParser())
		default:
			return nil, fmt.Errorf("unknown program alias %q", alias)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no parsers enabled")
	}
	return out, nil
}

func parseTimeframes(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tf, err := strconv.ParseInt(part, 10, 64)
		if err != nil || tf <= 0 {
			return nil, fmt.Errorf("bad timeframe %q", part)
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no timeframes")
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
