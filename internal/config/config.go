package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション設定を表す
type Config struct {
	Env         string
	Server      ServerConfig
	Database    DatabaseConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Coordinator CoordinatorConfig
	Reconciler  ReconcilerConfig
	Gateway     GatewayConfig
	Auth        AuthConfig
	Tracing     TracingConfig
}

// ServerConfig はサーバー設定
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MigrationsPath string
}

// DatabaseConfig は在庫ストア（PostgreSQL）の設定
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// MongoConfig は予約台帳（MongoDB）の設定
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// RedisConfig はRedis設定
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// KafkaConfig はイベント配信の設定。Brokers が空の場合は配信しない
type KafkaConfig struct {
	Brokers            []string
	BookingEventsTopic string
	InconsistencyTopic string
	WriteTimeout       time.Duration
}

// CoordinatorConfig は予約コーディネーターのリトライ設定
type CoordinatorConfig struct {
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	CallTimeout     time.Duration
	IdempotencyTTL  time.Duration
	LockRetries     int
	LockRetryDelay  time.Duration
	AvailabilityTTL time.Duration
}

// ReconcilerConfig は不整合修復ワーカーの設定
type ReconcilerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// GatewayConfig はツールゲートウェイの設定
type GatewayConfig struct {
	Port           string
	BookingAPIURL  string
	RequestTimeout time.Duration
}

// AuthConfig は認証設定。JWTSecret が空の場合はヘッダーからユーザーを取得する
type AuthConfig struct {
	JWTSecret string
}

// TracingConfig はOpenTelemetryの設定
type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

// Load は環境変数から設定を読み込む
func Load() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "flight_booking"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Mongo: MongoConfig{
			URI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:   getEnv("MONGO_DATABASE", "flight_booking"),
			Collection: getEnv("MONGO_BOOKING_COLLECTION", "bookings"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:            getListEnv("KAFKA_BROKERS"),
			BookingEventsTopic: getEnv("KAFKA_BOOKING_EVENTS_TOPIC", "booking.events"),
			InconsistencyTopic: getEnv("KAFKA_INCONSISTENCY_TOPIC", "booking.inconsistencies"),
			WriteTimeout:       getDurationEnv("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Coordinator: CoordinatorConfig{
			MaxAttempts:     getIntEnv("BOOKING_MAX_ATTEMPTS", 5),
			BaseBackoff:     getDurationEnv("BOOKING_BASE_BACKOFF", 20*time.Millisecond),
			MaxBackoff:      getDurationEnv("BOOKING_MAX_BACKOFF", 500*time.Millisecond),
			CallTimeout:     getDurationEnv("BOOKING_STORE_TIMEOUT", 5*time.Second),
			IdempotencyTTL:  getDurationEnv("BOOKING_IDEMPOTENCY_LOCK_TTL", 10*time.Second),
			LockRetries:     getIntEnv("BOOKING_IDEMPOTENCY_LOCK_RETRIES", 3),
			LockRetryDelay:  getDurationEnv("BOOKING_IDEMPOTENCY_LOCK_DELAY", 100*time.Millisecond),
			AvailabilityTTL: getDurationEnv("AVAILABILITY_CACHE_TTL", 30*time.Second),
		},
		Reconciler: ReconcilerConfig{
			Enabled:     getBoolEnv("RECONCILER_ENABLED", true),
			Interval:    getDurationEnv("RECONCILER_INTERVAL", 30*time.Second),
			BatchSize:   getIntEnv("RECONCILER_BATCH_SIZE", 50),
			MaxAttempts: getIntEnv("RECONCILER_MAX_ATTEMPTS", 10),
		},
		Gateway: GatewayConfig{
			Port:           getEnv("GATEWAY_PORT", "8090"),
			BookingAPIURL:  getEnv("BOOKING_API_URL", "http://localhost:8080"),
			RequestTimeout: getDurationEnv("GATEWAY_REQUEST_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "flight-booking"),
		},
	}

	// PaaS 形式の接続URLが指定されている場合は個別設定より優先する
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		applyDatabaseURL(&cfg.Database, raw)
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		applyRedisURL(&cfg.Redis, raw)
	}
	return cfg
}

// LoadDotEnv は存在する .env ファイルを環境変数へ読み込む。既に設定済みの変数は上書きしない
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// DSN はPostgreSQL接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr はRedis接続アドレスを返す
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// Enabled はKafkaへの配信が有効かを返す
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func applyDatabaseURL(c *DatabaseConfig, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	c.Host = u.Hostname()
	if p := u.Port(); p != "" {
		c.Port = p
	}
	if u.User != nil {
		c.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.Password = pw
		}
	}
	c.DBName = strings.TrimPrefix(u.Path, "/")
	c.SSLMode = u.Query().Get("sslmode")
	if c.SSLMode == "" {
		c.SSLMode = "require"
	}
}

func applyRedisURL(c *RedisConfig, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	c.Host = u.Hostname()
	if p := u.Port(); p != "" {
		c.Port = p
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			c.Password = pw
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
