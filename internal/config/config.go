package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"admin":                                true,
	"password":                             true,
	"changeme":                             true,
	"your-secret-key-change-in-production": true,
	"":                                     true,
}

var instanceTypes = map[string]bool{
	"free": true, "micro": true, "small": true, "medium": true, "large": true,
}

type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Koyeb     KoyebConfig
	KeepAlive KeepAliveConfig
	Admin     AdminConfig
	Log       LogConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

type KoyebConfig struct {
	APIBase             string
	DockerImage         string
	Port                int
	Region              string
	DefaultInstanceType string
	PublicURLTemplate   string
	Timeout             time.Duration
}

type KeepAliveConfig struct {
	Enabled     bool
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
}

type AdminConfig struct {
	Password  string
	JWTSecret string
	TokenTTL  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Addr string
}

type RateLimitConfig struct {
	DeployPerHour int
}

// Load reads configuration from the environment, after loading .env if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "3000"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "botfleet"),
			Password: getEnv("DB_PASSWORD", "botfleet"),
			DBName:   getEnv("DB_NAME", "botfleet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
			MinConns: getEnvInt("DB_MIN_CONNS", 2),
		},
		Koyeb: KoyebConfig{
			APIBase:             getEnv("KOYEB_API_BASE", "https://app.koyeb.com/v1"),
			DockerImage:         getEnv("BOT_DOCKER_IMAGE", "ghcr.io/orev7s/botmanifest:latest"),
			Port:                getEnvInt("BOT_PORT", 3000),
			Region:              getEnv("KOYEB_REGION", "was"),
			DefaultInstanceType: getEnv("KOYEB_DEFAULT_INSTANCE_TYPE", "micro"),
			PublicURLTemplate:   getEnv("KOYEB_PUBLIC_URL_TEMPLATE", "https://%s.koyeb.app"),
			Timeout:             getEnvDuration("KOYEB_TIMEOUT", 30*time.Second),
		},
		KeepAlive: KeepAliveConfig{
			Enabled:     getEnvBool("PING_ENABLED", true),
			Interval:    getEnvDuration("PING_INTERVAL", 4*time.Minute),
			Timeout:     getEnvDuration("PING_TIMEOUT", 10*time.Second),
			Concurrency: getEnvInt("PING_CONCURRENCY", 4),
		},
		Admin: AdminConfig{
			Password:  getEnv("ADMIN_PASSWORD", ""),
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("ADMIN_TOKEN_TTL", 12*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		RateLimit: RateLimitConfig{
			DeployPerHour: getEnvInt("DEPLOY_RATE_LIMIT", 5),
		},
	}

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.Admin.Password] {
		return fmt.Errorf("ADMIN_PASSWORD must be set to a secure value (current value is insecure or empty)")
	}
	if insecureDefaults[c.Admin.JWTSecret] {
		return fmt.Errorf("ADMIN_JWT_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.Admin.JWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters long")
	}
	if c.Admin.TokenTTL <= 0 {
		return fmt.Errorf("ADMIN_TOKEN_TTL must be positive")
	}
	if c.KeepAlive.Interval <= 0 || c.KeepAlive.Timeout <= 0 {
		return fmt.Errorf("PING_INTERVAL and PING_TIMEOUT must be positive")
	}
	if c.KeepAlive.Concurrency < 1 {
		return fmt.Errorf("PING_CONCURRENCY must be at least 1")
	}
	if !instanceTypes[c.Koyeb.DefaultInstanceType] {
		return fmt.Errorf("KOYEB_DEFAULT_INSTANCE_TYPE %q is not one of free, micro, small, medium, large", c.Koyeb.DefaultInstanceType)
	}
	if !strings.Contains(c.Koyeb.PublicURLTemplate, "%s") {
		return fmt.Errorf("KOYEB_PUBLIC_URL_TEMPLATE must contain %%s for the service name")
	}
	return nil
}

// DSN returns DATABASE_URL when set, otherwise a URL built from the parts.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
