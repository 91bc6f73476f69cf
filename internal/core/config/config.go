package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	RemoteIndexURL string
	RemoteTimeout  time.Duration
	FallbackPath   string

	OverlapThreshold   float64
	FetchDebounce      time.Duration
	CleanupDebounce    time.Duration
	MinKeepDuration    time.Duration
	HotCleanupInterval time.Duration
	ColdPruneInterval  time.Duration
	ColdMaxAge         time.Duration
	MaxCachedTokens    int
	MaxCellsPerRes     int
	CacheZoneBuffer    float64

	ColdBackend   string
	BadgerDir     string
	RedisAddr     string
	ColdOpTimeout time.Duration

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		RemoteIndexURL: getenv("REMOTE_INDEX_URL", "http://localhost:8080"),
		RemoteTimeout:  getduration("REMOTE_TIMEOUT", 10*time.Second),
		FallbackPath:   getenv("FALLBACK_DATASET", ""),

		OverlapThreshold:   getfloat("OVERLAP_THRESHOLD", 0.5),
		FetchDebounce:      getduration("FETCH_DEBOUNCE", 2*time.Second),
		CleanupDebounce:    getduration("CLEANUP_DEBOUNCE", 5*time.Second),
		MinKeepDuration:    getduration("MIN_KEEP_DURATION", 30*time.Second),
		HotCleanupInterval: getduration("HOT_CLEANUP_INTERVAL", time.Minute),
		ColdPruneInterval:  getduration("COLD_PRUNE_INTERVAL", time.Hour),
		ColdMaxAge:         getduration("COLD_MAX_AGE", 720*time.Hour),
		MaxCachedTokens:    getint("MAX_CACHED_TOKENS", 500),
		MaxCellsPerRes:     getint("MAX_CELLS_PER_RES", 64),
		CacheZoneBuffer:    getfloat("CACHE_ZONE_BUFFER", 1.5),

		ColdBackend:   getenv("COLD_BACKEND", "badger"),
		BadgerDir:     getenv("BADGER_DIR", "./data/coldstore"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		ColdOpTimeout: getduration("COLD_OP_TIMEOUT", 250*time.Millisecond),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "token-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "token-cache"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
