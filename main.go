package main

import (
	"context"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"adbudget/bandit"
	"adbudget/changelog"
	"adbudget/config"
	"adbudget/cryptox"
	"adbudget/domain"
	"adbudget/ingest"
	"adbudget/logger"
	"adbudget/platform"
	"adbudget/platform/httpplatform"
	"adbudget/scheduler"
	"adbudget/store"
)

func main() {
	// Load .env environment variables
	_ = godotenv.Load()

	// Initialize logger
	logger.Init(nil)

	logger.Info("╔════════════════════════════════════════════════════════════╗")
	logger.Info("║        🎯 adbudget - Thompson-Sampling Ad Budget Engine      ║")
	logger.Info("╚════════════════════════════════════════════════════════════╝")

	// Initialize global configuration (loaded from .env)
	config.Init()
	cfg := config.Get()
	logger.Info("✅ Configuration loaded")

	// Initialize encryption service BEFORE database (so EncryptedString can decrypt on read)
	logger.Info("🔐 Initializing encryption service...")
	cryptoService, err := cryptox.NewService()
	if err != nil {
		logger.Fatalf("❌ Failed to initialize encryption service: %v", err)
	}
	cryptox.SetGlobalService(cryptoService)
	logger.Info("✅ Encryption service initialized successfully")

	// Initialize database from configuration.
	// For backward compatibility: command line arg overrides config (SQLite only)
	if len(os.Args) > 1 {
		cfg.DBPath = os.Args[1]
	}
	if cfg.DBType == "sqlite" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				logger.Errorf("Failed to create data directory: %v", err)
			}
		}
	}

	logger.Infof("📋 Initializing database (%s)...", cfg.DBType)
	dbType := store.DBTypeSQLite
	if cfg.DBType == "postgres" {
		dbType = store.DBTypePostgres
	}
	st, err := store.NewWithConfig(store.DBConfig{
		Type:     dbType,
		Path:     cfg.DBPath,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		PoolSize: cfg.DBPoolSize,
	})
	if err != nil {
		logger.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer st.Close()

	alerts, err := changelog.NewAlertSink(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		logger.Warnf("⚠️ Telegram alert sink unavailable, continuing without it: %v", err)
		alerts, _ = changelog.NewAlertSink("", 0)
	}

	platforms := buildPlatforms(cfg)
	logger.Infof("🔌 %d ad platform adapter(s) registered", len(platforms))

	banditCfg := bandit.Config{
		RiskToleranceDefault: cfg.RiskToleranceDefault,
		VarianceLimitDefault: cfg.VarianceLimitDefault,
		MinTrialsForRiskGate: cfg.MinTrialsForRiskGate,
		MaxStep:              cfg.MaxStep,
		MinAllocFloor:        cfg.MinAllocFloor,
		ReportThreshold:      cfg.ReportThreshold,
		MaxTrialsPerCycle:    cfg.MaxTrialsPerCycle,
		CarryoverDecay:       cfg.CarryoverDecay,
		CarryoverCap:         cfg.CarryoverCap,
	}

	scorer := ingest.NewAnomalyScorer(cfg.AnomalyZ, 30)

	sup := scheduler.NewSupervisor(st, platforms, banditCfg, alerts, cfg.MaxConcurrentCycles, scorer, cfg.PollRatePerPlatform)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Reconcile(ctx); err != nil {
		logger.Errorf("⚠️ Startup reconciliation failed: %v", err)
	}
	if err := sup.StartAll(ctx); err != nil {
		logger.Fatalf("❌ Failed to start scheduler: %v", err)
	}

	sup.StartPollers(ctx, time.Duration(cfg.PollIntervalMs)*time.Millisecond)
	sup.StartRetentionSweep(ctx,
		time.Duration(cfg.RetentionSweepIntervalMs)*time.Millisecond,
		time.Duration(cfg.ChangeRetentionMs)*time.Millisecond,
	)

	armResolver := buildArmResolver(st)

	webhookSrv := ingest.NewWebhookServer(st.Metrics(), scorer, armResolver, cfg.PlatformCredentials, cfg.HTTPPort)
	webhookSrv.NotifyFn = buildWebhookNotifyFn(st, banditCfg, cfg.WebhookDeltaThreshold)
	go func() {
		if err := webhookSrv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Webhook server failed: %v", err)
		}
	}()
	logger.Infof("🌐 Webhook ingest server listening on :%d", cfg.HTTPPort)

	overrideSrv := ingest.NewOverrideServer(cfg.JWTSecret, cfg.OTPIssuer, st.Campaigns(), st.Arms(), st.Changes())
	overridePort := cfg.HTTPPort + 1
	overrideHTTP := &http.Server{
		Addr:    ":" + strconv.Itoa(overridePort),
		Handler: overrideSrv.Handler(),
	}
	go func() {
		if err := overrideHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Override server failed: %v", err)
		}
	}()
	logger.Infof("🌐 Manual-override server listening on :%d", overridePort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("✅ System started successfully, observing campaigns...")
	logger.Info("📌 Tip: Use Ctrl+C to stop the system")

	<-quit
	logger.Info("📴 Shutdown signal received, draining...")

	drainTimeout := time.Duration(cfg.DrainTimeoutMs) * time.Millisecond
	sup.StopAll(drainTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer shutdownCancel()
	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("⚠️ Webhook server shutdown: %v", err)
	}
	if err := overrideHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("⚠️ Override server shutdown: %v", err)
	}

	logger.Info("✅ System shut down safely")
}

// buildPlatforms constructs one HTTP ad-platform adapter per platform named
// in cfg.PlatformCredentials, skipping any without a registered base URL —
// an operator can stage credentials for a platform before wiring its base
// URL without the engine refusing to start.
func buildPlatforms(cfg *config.Config) map[string]platform.AdPlatform {
	out := make(map[string]platform.AdPlatform, len(cfg.PlatformCredentials))
	for name, apiKey := range cfg.PlatformCredentials {
		baseURL, ok := cfg.PlatformBaseURL[name]
		if !ok || baseURL == "" {
			logger.Warnf("⚠️ Platform %q has credentials but no base URL configured, skipping", name)
			continue
		}
		out[name] = httpplatform.New(name, baseURL, apiKey)
	}
	return out
}

// buildArmResolver returns an ArmResolver backed by the arm store, used by
// the webhook server to map a platform's own arm identity back to our arm
// ID.
func buildArmResolver(st *store.Store) ingest.ArmResolver {
	return func(armKey string) (uint64, bool) {
		id, ok, err := st.Arms().ResolveByKey(armKey)
		if err != nil {
			logger.Errorf("arm resolver: %v", err)
			return 0, false
		}
		return id, ok
	}
}

// buildWebhookNotifyFn wires WebhookServer.NotifyFn to the out-of-cycle
// posterior update it's documented to trigger: a webhook hint only moves
// the posterior early if its ROAS has drifted from the last poll value by
// more than deltaThreshold (a hint with no prior poll baseline is always
// applied, since there's nothing yet to compare it against). Impressions
// are clamped against MaxTrialsPerCycle exactly as the regular poll-drain
// path does, so a burst of webhook hints can't inflate trials unbounded.
func buildWebhookNotifyFn(st *store.Store, banditCfg bandit.Config, deltaThreshold float64) func(armID uint64, m domain.Metric) {
	return func(armID uint64, m domain.Metric) {
		if m.Quality == domain.QualitySuspect {
			logger.Warnf("⚠️ webhook: skipping posterior update for suspect metric, arm %d", armID)
			return
		}

		prior, found, err := st.Metrics().PollValueFor(armID, m.TS)
		if err != nil {
			logger.Errorf("❌ webhook: load prior poll value for arm %d: %v", armID, err)
			return
		}
		if found && deltaRatio(prior.ROAS(), m.ROAS()) < deltaThreshold {
			return
		}

		impressions := m.Impressions
		if banditCfg.MaxTrialsPerCycle > 0 && float64(impressions) > banditCfg.MaxTrialsPerCycle {
			impressions = int64(banditCfg.MaxTrialsPerCycle)
		}
		success, failure := m.RewardComponents()
		if _, err := st.Posteriors().UpdatePosterior(armID, success, failure, m.ROAS(), m.Cost, impressions, m.TS); err != nil {
			logger.Errorf("❌ webhook: out-of-cycle posterior update for arm %d: %v", armID, err)
			return
		}
		logger.Infof("⚡ webhook: out-of-cycle posterior update applied for arm %d", armID)
	}
}

// deltaRatio is the relative change between an old and current value,
// guarding against division by zero when old is 0.
func deltaRatio(old, current float64) float64 {
	if old == 0 {
		if current == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(current-old) / math.Abs(old)
}
