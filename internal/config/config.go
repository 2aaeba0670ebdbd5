package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultHTXList is the shipped set of cooperative units, used when
// HTX_LIST is not configured.
var defaultHTXList = []string{
	"MINH VY",
	"THANH VY",
	"KIM THỊNH",
	"NGHĨA PHÁT",
	"MINH VY TIỀN GIANG",
}

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	HTXList                []string
	PricingCacheTTLSeconds int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	cacheTTL, err := strconv.Atoi(getEnv("PRICING_CACHE_TTL_SECONDS", "30"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 30
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		HTXList:                parseHTXList(os.Getenv("HTX_LIST")),
		PricingCacheTTLSeconds: cacheTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// parseHTXList splits a comma-separated HTX_LIST value, trimming blanks.
func parseHTXList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		out := make([]string, len(defaultHTXList))
		copy(out, defaultHTXList)
		return out
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		out := make([]string, len(defaultHTXList))
		copy(out, defaultHTXList)
		return out
	}
	return names
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
