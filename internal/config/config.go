package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "codepair-dev-secret"

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	MongoURI string
	MongoDB  string

	// Redis
	RedisURL        string
	SessionCacheTTL time.Duration

	// JWT
	JWTSecret string

	CORSAllowedOrigins string

	// Code checkpoints
	CodeSaveDebounce time.Duration
	CodeSaveMaxWait  time.Duration
	StoreTimeout     time.Duration

	// Realtime
	WSEventsPerSecond int
	WSEventBurst      int
}

// Load reads the environment, after merging a .env file when one exists
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		MongoURI:           getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:            getEnvOrDefault("MONGO_DB", "codepair"),
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		SessionCacheTTL:    getEnvAsDurationOrDefault("SESSION_CACHE_TTL", 10*time.Minute),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),
		CodeSaveDebounce:   getEnvAsDurationOrDefault("CODE_SAVE_DEBOUNCE", 2*time.Second),
		CodeSaveMaxWait:    getEnvAsDurationOrDefault("CODE_SAVE_MAX_WAIT", 30*time.Second),
		StoreTimeout:       getEnvAsDurationOrDefault("STORE_TIMEOUT", 5*time.Second),
		WSEventsPerSecond:  getEnvAsIntOrDefault("WS_EVENTS_PER_SECOND", 50),
		WSEventBurst:       getEnvAsIntOrDefault("WS_EVENT_BURST", 100),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("required environment variable JWT_SECRET is not set")
		}
		log.Println("Warning: JWT_SECRET not set, using development secret")
		c.JWTSecret = devJWTSecret
	}
	if c.CodeSaveDebounce <= 0 {
		return fmt.Errorf("CODE_SAVE_DEBOUNCE must be positive")
	}
	if c.CodeSaveMaxWait < c.CodeSaveDebounce {
		return fmt.Errorf("CODE_SAVE_MAX_WAIT must not be shorter than CODE_SAVE_DEBOUNCE")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.WSEventsPerSecond < 0 || c.WSEventBurst < 0 {
		return fmt.Errorf("WS_EVENTS_PER_SECOND and WS_EVENT_BURST must not be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go durations ("2s") or bare milliseconds ("2000")
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
