// Package main provides the entry point for the Attention Collector daemon.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/api"
	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/appinfo"
	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/config"
	"github.com/graaaaa/attention-collector/internal/earnings"
	"github.com/graaaaa/attention-collector/internal/gate"
	"github.com/graaaaa/attention-collector/internal/ingest"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/metrics"
	"github.com/graaaaa/attention-collector/internal/singleinstance"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/storage/memory"
	"github.com/graaaaa/attention-collector/internal/storage/redis"
	"github.com/graaaaa/attention-collector/internal/storage/sqlite"
	"github.com/graaaaa/attention-collector/internal/upload"
	"github.com/graaaaa/attention-collector/internal/version"
	"github.com/graaaaa/attention-collector/webembed"
)

// envAllowedOrigins lists extension origins allowed to call the API cross-origin.
const envAllowedOrigins = "ATTN_ALLOWED_ORIGINS"

func main() {
	// 1. .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	replayPath := flag.String("replay", "", "replay a JSONL signal recording after startup")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// 2. Single instance check (Windows: session mutex, unix: flock on the data dir)
	lockPath, err := config.LockFilePath()
	if err != nil {
		log.Fatalf("Failed to resolve lock path: %v", err)
	}
	release, ok, err := singleinstance.AcquireLock(lockPath)
	if err != nil {
		log.Fatalf("Failed to acquire lock: %v", err)
	}
	if !ok {
		log.Println("Another instance is already running")
		os.Exit(1)
	}
	defer release()

	// 3. Load configuration (corrupt config falls back to defaults with warning)
	cfg, _ := config.LoadConfig()
	cfg = config.ApplyEnvOverrides(cfg)
	if *port > 0 {
		cfg.Port = *port
	}
	secretsPath, err := config.SecretsPath()
	if err != nil {
		log.Fatalf("Failed to resolve secrets path: %v", err)
	}
	secretsStore, err := config.OpenSecrets(secretsPath)
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	ensureLanAuth(secretsStore, cfg.LanEnabled)
	secrets := secretsStore.Get()

	// 4. Pricing model
	pricingPath := cfg.PricingPath
	if pricingPath == "" {
		if p, err := config.PricingPath(); err == nil {
			pricingPath = p
		}
	}
	pricing, err := earnings.LoadPricing(pricingPath)
	if err != nil {
		log.Fatalf("Failed to load pricing: %v", err)
	}
	engine, err := earnings.NewEngine(pricing)
	if err != nil {
		log.Fatalf("Failed to build earnings engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Storage
	kv, err := openStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer kv.Close()
	eventLog := storage.NewEventLog(kv, appinfo.EventLogKey)

	// 6. Authorization gate, restored from the last AUTH_SUCCESS
	g := gate.New()
	if secrets.Authorized() {
		g.Authorize(secrets.WalletAddress, secrets.UploadToken)
		log.Printf("Restored authorization for %s", secrets.WalletAddress)
	}
	unsubGate := g.Subscribe(func(st gate.Status) {
		logger.Info("gate changed", "authorized", st.Authorized, "consent", st.Consent)
	})
	defer unsubGate()

	m := metrics.New()

	collectorOpts := []collector.Option{
		collector.WithFlushThreshold(cfg.FlushThreshold),
		collector.WithFlushInterval(time.Duration(cfg.FlushIntervalSec) * time.Second),
		collector.WithMetrics(m),
	}
	if cfg.UploadsEnabled() {
		client := upload.NewClient(cfg.UploadBaseURL, g, upload.WithClientLogger(logger))
		dispatcher := upload.NewDispatcher(client, upload.PendingLog(kv, appinfo.EventLogKey), g,
			upload.WithLogger(logger))
		collectorOpts = append(collectorOpts, collector.WithUploader(dispatcher))
		log.Printf("Uploads enabled: %s", client.Endpoint())
	} else {
		log.Println("Upload endpoint not configured, events are kept locally")
	}

	// 7. Message bus, SSE hub and services
	bus := messaging.NewBus(messaging.WithLogger(logger))
	hub := api.NewHub(api.WithHubLogger(logger))
	go hub.Run()
	stopRelay := hub.Relay(bus)
	defer stopRelay()

	msgs := &app.MessageService{
		Gate:     g,
		Bus:      bus,
		Version:  version.String(),
		Logger:   logger,
		SaveAuth: secretsStore.SaveAuth,
	}
	sessions := app.NewSessionManager(adapter.DefaultRegistry(), eventLog,
		app.WithManagerLogger(logger),
		app.WithGate(g),
		app.WithCollectorOptions(collectorOpts...),
		app.WithFlushHook(msgs.OnFlush),
	)
	earningsSvc := &app.EarningsService{Engine: engine, Log: sessions.Log(), Gate: g}
	stats := &app.StatsService{Earnings: earningsSvc, Sessions: sessions, Gate: g}
	msgs.Stats = stats
	msgs.Sessions = sessions
	if err := msgs.Register(bus); err != nil {
		log.Fatalf("Failed to register message handlers: %v", err)
	}

	// 8. HTTP server
	host := "127.0.0.1"
	if cfg.LanEnabled {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Port)

	configPath, _ := config.ConfigPath()
	health := app.HealthService{Version: version.String(), Storage: cfg.StorageDriver, Sessions: sessions}

	limiter := api.NewRateLimiter(api.DefaultRateLimiterConfig())
	defer limiter.Stop()

	serverOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithEventsUsecase(&app.EventsService{Log: sessions.Log()}),
		api.WithEarningsUsecase(earningsSvc),
		api.WithStats(stats),
		api.WithSessions(sessions),
		api.WithBus(bus),
		api.WithConfigUsecase(app.ConfigService{ConfigPath: configPath, SecretsPath: secretsPath}),
		api.WithHub(hub),
		api.WithMetrics(m),
		api.WithRateLimiter(limiter),
	}
	if origins := splitList(os.Getenv(envAllowedOrigins)); len(origins) > 0 {
		serverOpts = append(serverOpts, api.WithAllowedOrigins(origins...))
	}
	if webFS, err := webembed.GetFS(); err == nil && webFS != nil {
		serverOpts = append(serverOpts, api.WithWebFS(webFS))
	}

	// Enable Basic Auth for LAN mode (credentials are guaranteed by ensureLanAuth)
	if cfg.LanEnabled {
		sseSecret := make([]byte, 32)
		if _, err := rand.Read(sseSecret); err != nil {
			log.Fatalf("Failed to generate stream secret: %v", err)
		}
		serverOpts = append(serverOpts,
			api.WithBasicAuth(secrets.BasicAuthUsername, secrets.BasicAuthPassword.Value()),
			api.WithAuthFailureLimiter(api.NewAuthFailureLimiter(api.DefaultAuthFailureLimiterConfig())),
			api.WithSSESecret(sseSecret),
		)
		log.Println("Basic Auth enabled for LAN mode")
	}

	server := api.NewServer(addr, health, serverOpts...)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting %s v%s on %s", appinfo.AppName, version.String(), addr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 9. Optional replay of a recorded browsing session
	if *replayPath != "" {
		go func() {
			st, err := ingest.ReplayFile(ctx, *replayPath, sessions, ingest.WithLogger(logger))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Replay error: %v", err)
				return
			}
			logger.Info("replay complete", "stats", st)
		}()
	}

	select {
	case <-done:
		log.Println("Shutting down...")
	case err := <-errCh:
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}

	cancel()

	// Flush every open session before storage closes.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := sessions.StopAll(stopCtx); err != nil {
		log.Printf("Session shutdown error: %v", err)
	}
	stopCancel()

	// Stop SSE hub (closes all subscriber channels)
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// openStorage opens the configured KV driver.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.KV, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		log.Println("Using in-memory storage; events are lost on exit")
		return memory.New(), nil

	case config.DriverRedis:
		rawURL := cfg.RedisAddr
		if !strings.Contains(rawURL, "://") {
			rawURL = "redis://" + rawURL
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err := redis.Open(pingCtx, rawURL, appinfo.DirName+":")
		if err != nil {
			return nil, err
		}
		return st, nil

	default:
		path, err := config.DatabasePath()
		if err != nil {
			return nil, err
		}
		if _, err := config.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("ensure data directory: %w", err)
		}
		st, err := sqlite.Open(path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if _, err := st.VacuumIfNeeded(ctx); err != nil {
			log.Printf("Warning: vacuum failed: %v", err)
		}
		return st, nil
	}
}

// ensureLanAuth generates Basic Auth credentials the first time LAN mode is used.
func ensureLanAuth(store *config.SecretsStore, lanEnabled bool) {
	generatedPw, err := store.EnsureLanAuth(lanEnabled)
	switch {
	case errors.Is(err, config.ErrSecretsReadOnly):
		log.Println("WARNING: Secrets file has errors; new credentials not saved to avoid data loss")
		log.Println("Please fix or delete secrets.json and restart")
	case err != nil:
		log.Fatalf("Failed to save secrets: %v", err)
	}
	if generatedPw == "" {
		return
	}

	username := store.Get().BasicAuthUsername
	pwPath, werr := "", err
	if werr == nil {
		pwPath, werr = config.WritePasswordFile(username, generatedPw)
	}
	if werr != nil {
		log.Println("=== GENERATED BASIC AUTH CREDENTIALS ===")
		log.Printf("Username: %s", username)
		log.Printf("Password: %s", generatedPw)
		log.Println("=========================================")
		return
	}
	log.Println("=== BASIC AUTH CREDENTIALS GENERATED ===")
	log.Printf("Credentials saved to: %s", pwPath)
	log.Println("Delete this file after saving the credentials!")
	log.Println("=========================================")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
