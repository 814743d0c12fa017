package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Sources  SourcesConfig
	Identity IdentityConfig
	Admin    AdminConfig
	Backfill BackfillConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host          string
	Port          string
	Username      string
	Password      string
	Database      string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	MigrationsDir string
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	Topics   TopicConfig
	Enabled  bool
	MockMode bool
}

type TopicConfig struct {
	ResyncJobs string
}

// SourceConfig holds the per-platform connection material. WebhookSecret is
// the HMAC key for signature verification; APIKey authenticates pulls.
type SourceConfig struct {
	BaseURL        string
	APIKey         string
	WebhookSecret  string
	PageSize       int
	RequestTimeout time.Duration
}

type SourcesConfig struct {
	Storefront SourceConfig
	POS        SourceConfig
	Booking    SourceConfig
}

type IdentityConfig struct {
	HashKey string
}

type AdminConfig struct {
	JWTSecret  string
	OIDCIssuer string
}

type BackfillConfig struct {
	LockTTL time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			Username:      getEnv("DB_USERNAME", "warehouse_user"),
			Password:      getEnv("DB_PASSWORD", "warehouse_pass"),
			Database:      getEnv("DB_NAME", "commerce_warehouse"),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "./migrations"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers:  []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID:  getEnv("KAFKA_GROUP_ID", "commerce-sync-group"),
			Enabled:  getEnvBool("KAFKA_ENABLED", true),
			MockMode: getEnvBool("KAFKA_MOCK_MODE", false),
			Topics: TopicConfig{
				ResyncJobs: getEnv("KAFKA_TOPIC_RESYNC", "commerce.resync-jobs"),
			},
		},
		Sources: SourcesConfig{
			Storefront: loadSource("STOREFRONT"),
			POS:        loadSource("POS"),
			Booking:    loadSource("BOOKING"),
		},
		Identity: IdentityConfig{
			HashKey: getEnv("IDENTITY_HASH_KEY", ""),
		},
		Admin: AdminConfig{
			JWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
			OIDCIssuer: getEnv("ADMIN_OIDC_ISSUER", ""),
		},
		Backfill: BackfillConfig{
			LockTTL: time.Duration(getEnvInt("BACKFILL_LOCK_TTL_MINUTES", 30)) * time.Minute,
		},
	}
}

func loadSource(prefix string) SourceConfig {
	return SourceConfig{
		BaseURL:        getEnv(prefix+"_BASE_URL", ""),
		APIKey:         getEnv(prefix+"_API_KEY", ""),
		WebhookSecret:  getEnv(prefix+"_WEBHOOK_SECRET", ""),
		PageSize:       getEnvInt(prefix+"_PAGE_SIZE", 100),
		RequestTimeout: time.Duration(getEnvInt(prefix+"_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
