package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	AllowedOrigin     string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	BillPrefix        string
	CGSTRate          string
	SGSTRate          string
	SummaryTTLSeconds int
	AgingMinDays      int
	ReversalThreshold int
	LogLevel          string
}

func Load() Config {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("SUMMARY_TTL_SECONDS", "30"))
	if err != nil || ttl < 1 {
		ttl = 30
	}
	agingDays, err := strconv.Atoi(getEnv("STOCK_AGING_MIN_DAYS", "90"))
	if err != nil || agingDays < 1 {
		agingDays = 90
	}
	reversalThreshold, err := strconv.Atoi(getEnv("REVERSAL_ALERT_THRESHOLD", "3"))
	if err != nil || reversalThreshold < 1 {
		reversalThreshold = 3
	}

	return Config{
		Port:              getEnv("PORT", "8080"),
		AllowedOrigin:     getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		BillPrefix:        getEnv("BILL_PREFIX", "RK"),
		CGSTRate:          getEnv("CGST_RATE", "1.5"),
		SGSTRate:          getEnv("SGST_RATE", "1.5"),
		SummaryTTLSeconds: ttl,
		AgingMinDays:      agingDays,
		ReversalThreshold: reversalThreshold,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
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
