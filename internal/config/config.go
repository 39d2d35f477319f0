package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	BusinessID              string
	DefaultLocationID       string
	DriftStrict             bool
	BreakdownTimeoutSeconds int
	ReadingCacheTTLSeconds  int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	breakdownTimeout, err := strconv.Atoi(getEnv("BREAKDOWN_TIMEOUT_SECONDS", "5"))
	if err != nil || breakdownTimeout < 1 {
		breakdownTimeout = 5
	}
	cacheTTL, err := strconv.Atoi(getEnv("READING_CACHE_TTL_SECONDS", "300"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		BusinessID:              getEnv("BUSINESS_ID", "main-business"),
		DefaultLocationID:       getEnv("DEFAULT_LOCATION_ID", "main-location"),
		DriftStrict:             parseBool(os.Getenv("DRIFT_STRICT")),
		BreakdownTimeoutSeconds: breakdownTimeout,
		ReadingCacheTTLSeconds:  cacheTTL,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		ManagerPIN:              strings.TrimSpace(os.Getenv("MANAGER_PIN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
