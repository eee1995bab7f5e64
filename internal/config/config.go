package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	EditWindowHours       int
	MinEditReasonLen      int
	StoreName             string
	StoreAddress          string
	StorePhone            string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	// Zero is a valid edit window: it disables post-commit edits entirely.
	editWindow, err := strconv.Atoi(getEnv("EDIT_WINDOW_HOURS", "24"))
	if err != nil || editWindow < 0 {
		editWindow = 24
	}
	minReason, err := strconv.Atoi(getEnv("MIN_EDIT_REASON_LEN", "10"))
	if err != nil || minReason < 1 {
		minReason = 10
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		EditWindowHours:       editWindow,
		MinEditReasonLen:      minReason,
		StoreName:             getEnv("STORE_NAME", "Botika POS"),
		StoreAddress:          os.Getenv("STORE_ADDRESS"),
		StorePhone:            os.Getenv("STORE_PHONE"),
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
