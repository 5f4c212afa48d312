package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridian-search/reasoner/internal/config"
	"github.com/meridian-search/reasoner/internal/llm"
	"github.com/meridian-search/reasoner/internal/orchestrator"
	"github.com/meridian-search/reasoner/internal/sources"
	"github.com/meridian-search/reasoner/internal/streaming"
	"github.com/meridian-search/reasoner/internal/tracing"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (or CONFIG_PATH)")
		requestPath = flag.String("request", "-", "request JSON file, - for stdin")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	registry := sources.NewRegistry()
	if path := cfg.Sources.TierRegistryPath; path != "" {
		registry, err = sources.LoadRegistry(path)
		if err != nil {
			logger.Fatal("load tier registry", zap.String("path", path), zap.Error(err))
		}
	}

	events := streaming.NewManager(cfg.Streaming.RingCapacity)
	if cfg.Streaming.RedisEnabled && cfg.Streaming.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Streaming.RedisAddr})
		defer client.Close()
		mirror := streaming.NewRedisMirror(client, logger, 0, 0)
		go mirror.AttachAll(ctx, events)
	}
	invoker := llm.NewClient(cfg.LLM, logger)
	orch := orchestrator.New(cfg, registry, invoker, events, logger)

	// Provider flags can be flipped at runtime through the config file.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, cfg.Providers, logger)
		if err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			watcher.OnChange(orch.SetProviderFlags)
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	req, err := readRequest(*requestPath)
	if err != nil {
		logger.Fatal("read request", zap.Error(err))
	}

	// Progress events go to stderr as NDJSON so stdout stays a single
	// machine-readable result document.
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamEvents(ctx, events, os.Stderr)
	}()

	result, runErr := orch.Run(ctx, req)
	stop()
	<-done

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case runErr == nil:
		if err := enc.Encode(result); err != nil {
			logger.Fatal("encode result", zap.Error(err))
		}
	case errors.Is(runErr, context.Canceled):
		logger.Info("session cancelled")
		os.Exit(130)
	default:
		var serr *orchestrator.SessionError
		if errors.As(runErr, &serr) {
			enc.Encode(serr)
		}
		logger.Error("session failed", zap.Error(runErr))
		os.Exit(1)
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// Logs share stderr with the event stream; stdout is reserved for
	// the result document.
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func readRequest(path string) (orchestrator.Request, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return orchestrator.Request{}, err
		}
		defer f.Close()
		r = f
	}
	var req orchestrator.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return orchestrator.Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Query == "" {
		return orchestrator.Request{}, fmt.Errorf("request has no query")
	}
	return req, nil
}

// streamEvents tails every session on the manager and writes NDJSON
// lines until ctx is cancelled. Sessions are single-shot here, so one
// wildcard subscription per run is enough.
func streamEvents(ctx context.Context, events *streaming.Manager, w io.Writer) {
	ch := events.SubscribeAll(64)
	defer events.UnsubscribeAll(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			w.Write(append(evt.Marshal(), '\n'))
		}
	}
}
