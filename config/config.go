// Package config holds the engine-wide configuration singleton, populated
// from environment variables (optionally loaded from a .env file by
// main.go via godotenv). main.go reads the Config at boot and passes each
// component the values it needs through its constructor; components never
// call config.Get() themselves.
package config

import (
	"os"
	"strconv"
	"strings"
)

var global *Config

// Config is the single configuration object named in the engine's
// external-interfaces configuration surface, plus the ambient
// service/database/auth settings the teacher's own Config carries.
type Config struct {
	// Webhook/override HTTP server.
	HTTPPort  int
	JWTSecret string
	OTPIssuer string

	// Database configuration.
	DBType     string
	DBPath     string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPoolSize int

	// Data-at-rest encryption for platform credentials (cryptox package).
	DataEncryptionKey string

	// Ops alerting.
	TelegramBotToken string
	TelegramChatID   int64

	// Decision-core configuration surface (spec.md §6).
	CycleDefaultMs       int64
	RiskToleranceDefault float64
	VarianceLimitDefault float64
	MinTrialsForRiskGate float64
	MaxStep              float64
	MinAllocFloor        float64
	ReportThreshold      float64
	AnomalyZ             float64
	DrainTimeoutMs       int64
	CarryoverDecay       float64
	CarryoverCap         float64
	MaxTrialsPerCycle    float64

	// WebhookDeltaThreshold is the minimum relative change in ROAS between
	// a webhook hint and the last poll value required to trigger an
	// out-of-cycle posterior update (spec.md §4.4's webhook fast-path).
	WebhookDeltaThreshold float64

	// Scheduler concurrency.
	MaxConcurrentCycles int

	// PollIntervalMs is how often each platform's background poller task
	// runs (independent of any campaign's own cadence).
	PollIntervalMs int64

	// ChangeRetentionMs/RetentionSweepIntervalMs drive the housekeeping
	// sweep that prunes the append-only change log.
	ChangeRetentionMs        int64
	RetentionSweepIntervalMs int64

	// PollRatePerPlatform is QPS per platform name, e.g. "google_ads" -> 5.
	PollRatePerPlatform map[string]float64

	// PlatformCredentials maps a platform name to its named environment
	// variable's value (e.g. "google_ads" -> $ADPLATFORM_GOOGLE_ADS_API_KEY).
	// A platform absent from this map has its poller disabled, not the
	// engine crashed.
	PlatformCredentials map[string]string

	// PlatformBaseURL maps a platform name to its HTTP adapter's base URL
	// (e.g. "google_ads" -> $ADPLATFORM_GOOGLE_ADS_BASE_URL).
	PlatformBaseURL map[string]string
}

// Init populates the global Config from environment variables, applying
// the spec's documented defaults for anything unset.
func Init() {
	cfg := &Config{
		HTTPPort:  8080,
		OTPIssuer: "adbudget",

		DBType:    "sqlite",
		DBPath:    "data/adbudget.db",
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "adbudget",
		DBSSLMode: "disable",

		CycleDefaultMs:       15 * 60 * 1000,
		RiskToleranceDefault: 0.5,
		VarianceLimitDefault: 1.0,
		MinTrialsForRiskGate: 30,
		MaxStep:              0.1,
		MinAllocFloor:        0.02,
		ReportThreshold:      1e-4,
		AnomalyZ:             3.0,
		DrainTimeoutMs:       30 * 1000,
		CarryoverDecay:       0.5,
		CarryoverCap:         3.0,
		MaxTrialsPerCycle:    100000,
		MaxConcurrentCycles:  0, // 0 => resolved to runtime.NumCPU()*4 by the scheduler

		WebhookDeltaThreshold: 0.2,

		PollIntervalMs:           30 * 1000,
		ChangeRetentionMs:        90 * 24 * 60 * 60 * 1000,
		RetentionSweepIntervalMs: 24 * 60 * 60 * 1000,

		DBPoolSize: 25,

		PollRatePerPlatform: map[string]float64{},
		PlatformCredentials: map[string]string{},
		PlatformBaseURL:     map[string]string{},
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = strings.TrimSpace(v)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "default-jwt-secret-change-in-production"
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.HTTPPort = port
		}
	}
	if v := os.Getenv("OTP_ISSUER"); v != "" {
		cfg.OTPIssuer = v
	}
	cfg.DataEncryptionKey = os.Getenv("DATA_ENCRYPTION_KEY")

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	if v := os.Getenv("DB_TYPE"); v != "" {
		cfg.DBType = strings.ToLower(v)
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.DBPort = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	}

	if v := os.Getenv("CYCLE_DEFAULT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.CycleDefaultMs = n
		}
	}
	if v := os.Getenv("RISK_TOLERANCE_DEFAULT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RiskToleranceDefault = f
		}
	}
	if v := os.Getenv("VARIANCE_LIMIT_DEFAULT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.VarianceLimitDefault = f
		}
	}
	if v := os.Getenv("MIN_TRIALS_FOR_RISK_GATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinTrialsForRiskGate = f
		}
	}
	if v := os.Getenv("MAX_STEP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxStep = f
		}
	}
	if v := os.Getenv("MIN_ALLOC_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinAllocFloor = f
		}
	}
	if v := os.Getenv("REPORT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReportThreshold = f
		}
	}
	if v := os.Getenv("ANOMALY_Z"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AnomalyZ = f
		}
	}
	if v := os.Getenv("DRAIN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.DrainTimeoutMs = n
		}
	}
	if v := os.Getenv("CARRYOVER_DECAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CarryoverDecay = f
		}
	}
	if v := os.Getenv("CARRYOVER_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CarryoverCap = f
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentCycles = n
		}
	}
	if v := os.Getenv("MAX_TRIALS_PER_CYCLE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MaxTrialsPerCycle = f
		}
	}
	if v := os.Getenv("WEBHOOK_DELTA_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.WebhookDeltaThreshold = f
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.PollIntervalMs = n
		}
	}
	if v := os.Getenv("CHANGE_RETENTION_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ChangeRetentionMs = n
		}
	}
	if v := os.Getenv("RETENTION_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.RetentionSweepIntervalMs = n
		}
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DBPoolSize = n
		}
	}

	// Per-platform credentials: ADPLATFORM_<NAME>_API_KEY. Absence disables
	// that platform's poller without crashing the engine (spec.md §6).
	for _, name := range strings.Split(os.Getenv("ADPLATFORM_NAMES"), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		envVar := "ADPLATFORM_" + strings.ToUpper(name) + "_API_KEY"
		if v := os.Getenv(envVar); v != "" {
			cfg.PlatformCredentials[name] = v
		}
		if v := os.Getenv("ADPLATFORM_" + strings.ToUpper(name) + "_QPS"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				cfg.PollRatePerPlatform[name] = f
			}
		}
		if v := os.Getenv("ADPLATFORM_" + strings.ToUpper(name) + "_BASE_URL"); v != "" {
			cfg.PlatformBaseURL[name] = v
		}
	}

	global = cfg
}

// Get returns the global configuration, initializing it from the
// environment on first call.
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}
