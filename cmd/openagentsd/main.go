// Command openagentsd is the control-plane process: it wires the sync
// reducer store, credit engine, liquidity service, route-split decision
// engine, and the local Codex lane worker into one long-running daemon.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/pretyflaco/openagents-sub005/internal/obslog"
	"github.com/pretyflaco/openagents-sub005/internal/otelinit"
	"github.com/pretyflaco/openagents-sub005/pkg/appserver"
	"github.com/pretyflaco/openagents-sub005/pkg/archival"
	"github.com/pretyflaco/openagents-sub005/pkg/autopilot"
	"github.com/pretyflaco/openagents-sub005/pkg/canon"
	"github.com/pretyflaco/openagents-sub005/pkg/codexworker"
	"github.com/pretyflaco/openagents-sub005/pkg/credit"
	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
	"github.com/pretyflaco/openagents-sub005/pkg/routesplit"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memcredit"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memliquidity"
	"github.com/pretyflaco/openagents-sub005/pkg/store/sqlcredit"
	"github.com/pretyflaco/openagents-sub005/pkg/store/sqlliquidity"
	"github.com/pretyflaco/openagents-sub005/pkg/syncauth"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) >= 2 {
		switch args[1] {
		case "health":
			return runHealthCmd()
		case "doctor":
			return runDoctorCmd()
		case "help", "--help", "-h":
			printUsage()
			return 0
		}
	}

	serve()
	return 0
}

func printUsage() {
	fmt.Println("openagentsd - control-plane daemon")
	fmt.Println()
	fmt.Println("usage: openagentsd [command]")
	fmt.Println()
	fmt.Println("  (none)  run the daemon (default)")
	fmt.Println("  health  check a running daemon's /health endpoint")
	fmt.Println("  doctor  check configuration without starting the daemon")
}

func runHealthCmd() int {
	port := envOr("OPENAGENTSD_HEALTH_PORT", "8091")
	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Println("OK")
	return 0
}

func runDoctorCmd() int {
	fmt.Println("openagentsd doctor")
	fmt.Printf("  DATABASE_URL set: %v\n", os.Getenv("DATABASE_URL") != "")
	fmt.Printf("  WALLET_EXECUTOR_URL set: %v\n", os.Getenv("WALLET_EXECUTOR_URL") != "")
	fmt.Printf("  ROUTESPLIT_CONFIG set: %v\n", os.Getenv("ROUTESPLIT_CONFIG") != "")
	fmt.Printf("  ARCHIVAL_SINK_TYPE: %q\n", os.Getenv("ARCHIVAL_SINK_TYPE"))
	discovery := appServerDiscovery()
	if bin, err := appserver.DiscoverBinary(discovery); err != nil {
		fmt.Printf("  codex-app-server: not found (%v)\n", err)
	} else {
		fmt.Printf("  codex-app-server: %s %v\n", bin.Path, bin.Args)
	}
	return 0
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := obslog.New(obslog.Config{Level: slog.LevelInfo, JSON: os.Getenv("OPENAGENTSD_LOG_JSON") == "1"}, "openagentsd")
	logger.Info("starting")

	otel, err := otelinit.New(ctx, otelinit.DefaultConfig("openagentsd"), logger)
	if err != nil {
		logger.Error("otel init failed, continuing without telemetry", "error", err)
	} else {
		defer func() { _ = otel.Shutdown(context.Background()) }()
	}

	signer, err := loadOrGenerateSigner(logger)
	if err != nil {
		logger.Error("failed to init receipt signer", "error", err)
		os.Exit(1)
	}
	logger.Info("receipt signer ready", "public_key", signer.PublicKeyHex())

	db, creditStore, liquidityStore := setupStores(ctx, logger)
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	creditEngine := credit.NewEngine(creditStore).WithSigner(signer)

	walletURL := os.Getenv("WALLET_EXECUTOR_URL")
	var wallet *liquidity.WalletExecutorClient
	if walletURL != "" {
		wallet = liquidity.NewWalletExecutorClient(walletURL, os.Getenv("WALLET_EXECUTOR_TOKEN"))
	} else {
		wallet = liquidity.NewWalletExecutorClient("", "")
		logger.Warn("WALLET_EXECUTOR_URL not set; liquidity service runs with wallet executor unconfigured")
	}
	liquidityOpts := []liquidity.Option{liquidity.WithSigner(signer)}
	if relays := nostrRelaysFromEnv(); len(relays) > 0 {
		mirror := liquidity.NewNostrMirror(relays, signer, logger)
		liquidityOpts = append(liquidityOpts, liquidity.WithNostrMirror(mirror.Publish))
	}
	liquidityService := liquidity.NewService(liquidityStore, wallet, liquidityOpts...)

	routeEngine := setupRouteSplit(logger)

	archivalSink, err := archival.NewSinkFromEnv(ctx)
	if err != nil {
		logger.Warn("archival sink init failed, retention trims will not be mirrored", "error", err)
	}
	archivalMirror := archival.NewMirror(archivalSink, logger)
	_ = archivalMirror // consumed by the retention loop wherever streams are known; wiring point for operators

	keySet, err := syncauth.NewKeySet()
	if err != nil {
		logger.Error("failed to init sync session keyset", "error", err)
		os.Exit(1)
	}
	tokenManager := syncauth.NewTokenManager(keySet)
	_ = tokenManager

	dispatcher := setupAutopilot(logger)

	worker, workerClient := setupCodexWorker(logger)
	if worker != nil {
		go worker.Run(ctx)
		defer func() {
			if workerClient != nil {
				_ = workerClient.Shutdown()
			}
		}()
	}
	_ = dispatcher
	_ = creditEngine
	_ = liquidityService
	_ = routeEngine

	healthSrv := startHealthServer(logger)

	logger.Info("ready")
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)
}

func setupStores(ctx context.Context, logger *slog.Logger) (*sql.DB, credit.Store, liquidity.Store) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Info("DATABASE_URL not set, running with in-memory stores")
		return nil, memcredit.New(), memliquidity.New()
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database, falling back to in-memory stores", "error", err)
		return nil, memcredit.New(), memliquidity.New()
	}
	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping database, falling back to in-memory stores", "error", err)
		_ = db.Close()
		return nil, memcredit.New(), memliquidity.New()
	}

	creditStore := sqlcredit.New(db)
	if err := creditStore.Init(ctx); err != nil {
		logger.Error("failed to init credit schema, falling back to in-memory credit store", "error", err)
		return db, memcredit.New(), setupLiquiditySQL(ctx, db, logger)
	}

	return db, creditStore, setupLiquiditySQL(ctx, db, logger)
}

func setupLiquiditySQL(ctx context.Context, db *sql.DB, logger *slog.Logger) liquidity.Store {
	liquidityStore := sqlliquidity.New(db)
	if err := liquidityStore.Init(ctx); err != nil {
		logger.Error("failed to init liquidity schema, falling back to in-memory liquidity store", "error", err)
		return memliquidity.New()
	}
	return liquidityStore
}

func setupRouteSplit(logger *slog.Logger) *routesplit.Engine {
	cfg := routesplit.Config{Enabled: false, Mode: routesplit.ModeLegacy}
	if path := os.Getenv("ROUTESPLIT_CONFIG"); path != "" {
		loaded, err := routesplit.LoadConfigFile(path)
		if err != nil {
			logger.Error("failed to load route-split config, defaulting to legacy-only", "error", err, "path", path)
		} else {
			cfg = loaded
		}
	}
	engine, err := routesplit.NewEngine(cfg)
	if err != nil {
		logger.Error("failed to build route-split engine, defaulting to legacy-only", "error", err)
		engine, _ = routesplit.NewEngine(routesplit.Config{Enabled: false, Mode: routesplit.ModeLegacy})
	}
	return engine
}

func setupAutopilot(logger *slog.Logger) *autopilot.Dispatcher {
	discovery := appServerDiscovery()
	prober := autopilot.NewAppServerProber(discovery, 5*time.Second, 10*time.Second)
	journal := autopilot.NewJournal(filepath.Join(dataDir(), "autopilot", "replay_queue.jsonl"))
	mode := autopilot.Mode(envOr("AUTOPILOT_MODE", string(autopilot.ModeLocalFirst)))
	logger.Info("autopilot dispatcher ready", "mode", mode)
	return autopilot.NewDispatcher(mode, prober, journal, filepath.Join(dataDir(), "autopilot", "scratch"))
}

func setupCodexWorker(logger *slog.Logger) (*codexworker.Worker, *appserver.Client) {
	discovery := appServerDiscovery()
	bin, err := appserver.DiscoverBinary(discovery)
	if err != nil {
		logger.Warn("codex-app-server not found, running without a local Codex lane worker", "error", err)
		return nil, nil
	}

	client, err := appserver.Spawn(appserver.Config{
		Binary:           bin,
		WorkingDirectory: dataDir(),
		Env:              os.Environ(),
		NotificationBuf:  64,
		ServerRequestBuf: 16,
	}, nil)
	if err != nil {
		logger.Warn("failed to spawn codex-app-server, running without a local Codex lane worker", "error", err)
		return nil, nil
	}

	worker := codexworker.New(client, codexworker.Config{
		BootstrapThread: true,
		WorkspaceRoot:   dataDir(),
		ClientInfo:      appserver.ClientInfo{Name: "openagentsd", Version: "0.1.0"},
	})
	logger.Info("codex lane worker ready", "binary", bin.Path)
	return worker, client
}

func appServerDiscovery() appserver.BinaryDiscovery {
	return appserver.BinaryDiscovery{
		EnvOverride:      "CODEX_APP_SERVER",
		BinEnv:           "CODEX_BIN",
		CommonBinDirs:    []string{"/usr/local/bin", "/usr/bin", filepath.Join(os.Getenv("HOME"), ".local/bin")},
		VersionProbeArgs: []string{"--version"},
	}
}

func startHealthServer(logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: ":" + envOr("OPENAGENTSD_HEALTH_PORT", "8091"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
		}
	}()
	return srv
}

func loadOrGenerateSigner(logger *slog.Logger) (*canon.Ed25519Signer, error) {
	keyPath := filepath.Join(dataDir(), "receipt_signer.key")

	if raw, err := os.ReadFile(keyPath); err == nil {
		seed, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil {
			return nil, fmt.Errorf("invalid receipt_signer.key contents: %w", decodeErr)
		}
		logger.Info("loaded persistent receipt signer", "path", keyPath)
		return canon.NewEd25519SignerFromSeed(seed)
	}

	signer, err := canon.NewEd25519Signer()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err == nil {
		_ = os.WriteFile(keyPath, []byte(hex.EncodeToString(signer.Seed())), 0o600)
		logger.Info("generated and persisted new receipt signer", "path", keyPath)
	} else {
		logger.Warn("generated ephemeral receipt signer; could not persist it", "error", err)
	}
	return signer, nil
}

func nostrRelaysFromEnv() []string {
	raw := os.Getenv("NOSTR_RELAYS")
	if raw == "" {
		return nil
	}
	var relays []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				relays = append(relays, raw[start:i])
			}
			start = i + 1
		}
	}
	return relays
}

func dataDir() string {
	return envOr("OPENAGENTSD_DATA_DIR", "data")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
