package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	// JWTSecret enables bearer auth on problem and worker routes when set.
	JWTSecret string

	NATSURL     string
	NATSSubject string

	SubscriberBuffer int
	StreamHeartbeat  time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		JWTSecret:   getenv("JWT_SECRET", ""),
		NATSURL:     getenv("NATS_URL", ""),
		NATSSubject: getenv("NATS_SUBJECT", "ezywork.problems"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "text")),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing env: DATABASE_URL")
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	creds, err := strconv.ParseBool(getenv("CORS_ALLOW_CREDENTIALS", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CORS_ALLOW_CREDENTIALS: %q", os.Getenv("CORS_ALLOW_CREDENTIALS"))
	}
	cfg.CORSAllowCredentials = creds

	buf, err := strconv.Atoi(getenv("SUBSCRIBER_BUFFER", "64"))
	if err != nil || buf <= 0 {
		return Config{}, fmt.Errorf("invalid SUBSCRIBER_BUFFER: %q", os.Getenv("SUBSCRIBER_BUFFER"))
	}
	cfg.SubscriberBuffer = buf

	hb, err := time.ParseDuration(getenv("STREAM_HEARTBEAT", "25s"))
	if err != nil || hb <= 0 {
		return Config{}, fmt.Errorf("invalid STREAM_HEARTBEAT: %q", os.Getenv("STREAM_HEARTBEAT"))
	}
	cfg.StreamHeartbeat = hb

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
