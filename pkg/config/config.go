package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"likegate/pkg/access"
	"likegate/pkg/hardening"
	"likegate/pkg/quota"
	"likegate/pkg/store"
	"likegate/pkg/telemetry"
)

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Links shown in the verification and help screens.
type Links struct {
	Contact         string
	Discord         string
	YouTube         string
	TelegramChannel string
	TelegramGroup   string
}

type Config struct {
	Environment        string
	StrictProdSecurity string

	BotToken string
	Owners   *access.Owners

	DefaultLimit  int
	Location      *time.Location
	RetentionDays int

	StoreBackend       string
	DataFile           string
	Redis              store.RedisConfig
	RedisKey           string
	DatabaseURL        string
	DatabaseRequireTLS bool
	AuditRedact        bool
	AuditHashSalt      string

	LikeAPIURL     string
	LikeAPIKey     string
	LikeAPITimeout time.Duration
	LikeAPIRetries int

	BroadcastTTL time.Duration
	FloodLimit   int
	FloodWindow  time.Duration
	Workers      int

	Links Links

	AdminAddr       string
	AdminAuthHeader string
	AdminAuthToken  string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	Telemetry telemetry.Config
}

// LoadDotEnv reads a .env file when present. A missing file is not an error.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("config: ignoring .env: %v", err)
		}
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	cfg := Config{
		Environment:        env("ENVIRONMENT", "development"),
		StrictProdSecurity: env("STRICT_PROD_SECURITY", "true"),
		BotToken:           strings.TrimSpace(env("TELEGRAM_BOT_TOKEN", "")),
		DefaultLimit:       envInt("DEFAULT_DAILY_LIMIT", quota.DefaultLimit),
		RetentionDays:      envInt("USAGE_RETENTION_DAYS", 31),
		StoreBackend:       strings.ToLower(strings.TrimSpace(env("STORE_BACKEND", BackendFile))),
		DataFile:           env("DATA_FILE", "tg_data.json"),
		Redis: store.RedisConfig{
			Addr:             env("REDIS_ADDR", ""),
			Password:         env("REDIS_PASSWORD", ""),
			DB:               envInt("REDIS_DB", 0),
			TLS:              envBool("REDIS_TLS", false),
			TLSInsecure:      envBool("REDIS_TLS_INSECURE", false),
			AllowInsecureTLS: envBool("REDIS_ALLOW_INSECURE_TLS", false),
			TLSServerName:    env("REDIS_TLS_SERVER_NAME", ""),
			CACertFile:       env("REDIS_TLS_CA_CERT_FILE", ""),
			CertFile:         env("REDIS_TLS_CERT_FILE", ""),
			KeyFile:          env("REDIS_TLS_KEY_FILE", ""),
			RequireTLS:       envBool("REDIS_REQUIRE_TLS", false),
		},
		RedisKey:           env("REDIS_SNAPSHOT_KEY", store.DefaultRedisKey),
		DatabaseURL:        env("DATABASE_URL", ""),
		DatabaseRequireTLS: envBool("DATABASE_REQUIRE_TLS", false),
		AuditRedact:        envBool("AUDIT_REDACT", true),
		AuditHashSalt:      env("AUDIT_HASH_SALT", ""),
		LikeAPIURL:         strings.TrimRight(env("LIKE_API_URL", "https://lordlike.onrender.com"), "/"),
		LikeAPIKey:         env("FREE_FIRE_API_KEY", ""),
		LikeAPITimeout:     envDurationSec("LIKE_API_TIMEOUT_SEC", 30),
		LikeAPIRetries:     envInt("LIKE_API_RETRIES", 0),
		BroadcastTTL:       envDurationSec("BROADCAST_TTL_SEC", 600),
		FloodLimit:         envInt("FLOOD_LIMIT", 6),
		FloodWindow:        envDurationSec("FLOOD_WINDOW_SEC", 30),
		Workers:            envInt("BOT_WORKERS", 16),
		Links: Links{
			Contact:         env("CONTACT_OWNER", "@Mahimahmud12"),
			Discord:         env("DISCORD_LINK", "https://discord.gg/"),
			YouTube:         env("VERIFY_LINK_YOUTUBE", "https://youtube.com/"),
			TelegramChannel: env("VERIFY_LINK_CHANNEL", "https://t.me/"),
			TelegramGroup:   env("VERIFY_LINK_GROUP", "https://t.me/"),
		},
		AdminAddr:       env("ADMIN_ADDR", ":8090"),
		AdminAuthHeader: env("ADMIN_AUTH_HEADER", "X-Admin-Token"),
		AdminAuthToken:  env("ADMIN_AUTH_TOKEN", ""),
		KafkaEnabled:    envBool("KAFKA_ENABLED", false),
		KafkaBrokers:    splitList(env("KAFKA_BROKERS", "")),
		KafkaTopic:      env("KAFKA_TOPIC", "likegate.events"),
		Telemetry: telemetry.Config{
			ServiceName: env("OTEL_SERVICE_NAME", "likegate"),
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     env("OTEL_EXPORTER_OTLP_HEADERS", ""),
			Timeout:     envDurationSec("OTEL_EXPORTER_OTLP_TIMEOUT_SEC", 5),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			Required:    envBool("OTEL_REQUIRED", false),
			Sampler:     env("OTEL_TRACES_SAMPLER", ""),
			SamplerArg:  env("OTEL_TRACES_SAMPLER_ARG", ""),
		},
	}
	// ADMIN_ADDR may be set to an empty string to disable the listener.
	if v, ok := os.LookupEnv("ADMIN_ADDR"); ok && strings.TrimSpace(v) == "" {
		cfg.AdminAddr = ""
	}

	tz := env("REFERENCE_TIMEZONE", quota.DefaultLocation)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return cfg, fmt.Errorf("REFERENCE_TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	owners, err := access.ParseOwners(env("OWNER_IDS", ""))
	if err != nil {
		return cfg, fmt.Errorf("OWNER_IDS: %w", err)
	}
	cfg.Owners = owners

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN required")
	}
	if c.DefaultLimit < 0 {
		return fmt.Errorf("DEFAULT_DAILY_LIMIT must be >= 0, got %d", c.DefaultLimit)
	}
	switch c.StoreBackend {
	case BackendFile:
		if strings.TrimSpace(c.DataFile) == "" {
			return errors.New("DATA_FILE required for file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("REDIS_ADDR required for redis backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.LikeAPITimeout <= 0 {
		return errors.New("LIKE_API_TIMEOUT_SEC must be positive")
	}
	if c.LikeAPIRetries < 0 {
		return errors.New("LIKE_API_RETRIES must be >= 0")
	}
	if c.Workers <= 0 {
		return errors.New("BOT_WORKERS must be positive")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS required when KAFKA_ENABLED=true")
	}
	return hardening.ValidateProduction(c.hardeningOptions())
}

func (c Config) hardeningOptions() hardening.Options {
	redisAddr := ""
	if c.StoreBackend == BackendRedis {
		redisAddr = c.Redis.Addr
	}
	return hardening.Options{
		Service:               "likegate",
		Environment:           c.Environment,
		StrictProdSecurity:    c.StrictProdSecurity,
		StoreBackend:          c.StoreBackend,
		DatabaseURL:           c.DatabaseURL,
		DatabaseRequireTLS:    strconv.FormatBool(c.DatabaseRequireTLS),
		RedisAddr:             redisAddr,
		RedisRequireTLS:       strconv.FormatBool(c.Redis.RequireTLS),
		RedisTLSInsecure:      strconv.FormatBool(c.Redis.TLSInsecure),
		RedisAllowInsecureTLS: strconv.FormatBool(c.Redis.AllowInsecureTLS),
		AdminAddr:             c.AdminAddr,
		AdminToken:            c.AdminAuthToken,
		OTELInsecure:          strconv.FormatBool(c.Telemetry.Insecure),
		RequiredSecrets: []hardening.EnvRequirement{
			{Name: "TELEGRAM_BOT_TOKEN", Value: c.BotToken},
			{Name: "FREE_FIRE_API_KEY", Value: c.LikeAPIKey},
		},
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
