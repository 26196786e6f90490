package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"syforge/config"
	"syforge/core/events"
	"syforge/core/types"
	"syforge/native/custody"
	"syforge/native/maturity"
	"syforge/native/registry"
	"syforge/native/tokenfactory"
	"syforge/native/yield"
	"syforge/observability"
	"syforge/observability/logging"
	"syforge/rpc"
	"syforge/state"
	"syforge/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	rpcTokenEnv       = "SYF_RPC_TOKEN"
	authorityPassEnv  = "SYF_AUTHORITY_PASS"
	shutdownGraceTime = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SYF_ENV"))
	logger := logging.Setup("syforged", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		logger = logging.Setup("syforged", cfg.Environment)
	}

	authority, err := cfg.Authority(os.Getenv(authorityPassEnv))
	if err != nil {
		logger.Error("Failed to resolve authority address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	kv := state.NewKV(db)
	custodyLedger := custody.NewLedger(kv)
	factory := tokenfactory.NewFactory(authority, registry.NewRegistry(kv), maturity.NewLedger(kv), yield.NewEngine(kv), custodyLedger)
	factory.SetEmitter(&logEmitter{logger: logger})
	factory.SetMetrics(observability.Factory())

	rpcToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if rpcToken == "" {
		logger.Warn("No RPC token configured; mutating methods are disabled", slog.String("env", rpcTokenEnv))
	}
	rpcServer := rpc.NewServer(factory, custodyLedger, authority, rpcToken)

	mux := http.NewServeMux()
	mux.Handle("/", rpcServer)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving JSON-RPC",
			slog.String("listen", cfg.ListenAddress),
			slog.String("network", cfg.NetworkName),
			slog.String("authority", authority.String()),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTime)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
}

// logEmitter mirrors protocol events onto the structured log stream.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("protocol event", slog.String("type", evt.EventType()))
		return
	}
	event := payload.Event()
	attrs := make([]any, 0, len(event.Attributes)+1)
	attrs = append(attrs, slog.String("type", event.Type))
	for key, value := range event.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("protocol event", attrs...)
}
