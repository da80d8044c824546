package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// JWTConfig defines issuer/secret pair for auth verification.
type JWTConfig struct {
	Issuer string
	Secret []byte
}

// Config holds runtime configuration shared across the application.
type Config struct {
	Addr                     string
	MongoURI                 string
	MongoDatabase            string
	SubmissionCollection     string
	QuotaCollection          string
	FailedDeliveryCollection string
	PingCollection           string
	Timeout                  time.Duration
	Timezone                 string
	ServerLog                *log.Logger
	JWTConfigs               []JWTConfig
	JWTAudience              string
	AdminSubjects            []string
	ContinuationSecret       []byte
	ContinuationTTL          time.Duration
	GatewayEndpoint          string
	GatewayTimeout           time.Duration
	AdminDestination         string
	AdminDashboardBaseURL    string
	EditFormBaseURL          string
	AllowedOrigins           []string
	SubmitMaxRequests        int
	SubmitWindow             time.Duration
	DeliverMaxRequests       int
	DeliverWindow            time.Duration
}

// Load reads environment variables and returns a fully populated Config.
// 署名用シークレットを欠いた構成は起動させない（フェイルクローズ）。
func Load() Config {
	serverLog := log.New(os.Stdout, "[intake-api] ", log.LstdFlags|log.Lshortfile)

	timeout := 10 * time.Second
	if v := os.Getenv("MONGO_CONNECT_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			timeout = parsed
		}
	}

	gatewayEndpoint := strings.TrimSpace(os.Getenv("DELIVERY_GATEWAY_URL"))
	if gatewayEndpoint == "" {
		gatewayEndpoint = "http://delivery-gateway:3000"
	}

	gatewayTimeout := 3 * time.Second
	if raw := strings.TrimSpace(os.Getenv("DELIVERY_GATEWAY_TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			gatewayTimeout = parsed
		}
	}

	continuationSecret := strings.TrimSpace(os.Getenv("CONTINUATION_SECRET"))
	if continuationSecret == "" {
		log.Fatal("CONTINUATION_SECRET must be configured")
	}

	continuationTTL := 5 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("CONTINUATION_TOKEN_TTL")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			continuationTTL = parsed
		}
	}

	var jwtConfigs []JWTConfig
	if secret := strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET")); secret != "" {
		jwtConfigs = append(jwtConfigs, JWTConfig{
			Issuer: envOrDefault("ADMIN_JWT_ISSUER", "intake-admin-auth"),
			Secret: []byte(secret),
		})
	}
	if len(jwtConfigs) == 0 {
		log.Fatal("JWT secret not configured. Set ADMIN_JWT_SECRET.")
	}

	cfg := Config{
		Addr:                     envOrDefault("HTTP_ADDR", ":8080"),
		MongoURI:                 envOrDefault("MONGO_URI", "mongodb://mongo:27017"),
		MongoDatabase:            envOrDefault("MONGO_DB", "intake"),
		SubmissionCollection:     envOrDefault("SUBMISSION_COLLECTION", "submissions"),
		QuotaCollection:          envOrDefault("QUOTA_COLLECTION", "quota_counters"),
		FailedDeliveryCollection: envOrDefault("FAILED_DELIVERY_COLLECTION", "failed_deliveries"),
		PingCollection:           envOrDefault("PING_COLLECTION", "pings"),
		Timeout:                  timeout,
		Timezone:                 envOrDefault("TIMEZONE", "Asia/Tokyo"),
		ServerLog:                serverLog,
		JWTConfigs:               jwtConfigs,
		JWTAudience:              strings.TrimSpace(os.Getenv("ADMIN_JWT_AUDIENCE")),
		AdminSubjects:            parseList("ADMIN_SUBJECTS", nil),
		ContinuationSecret:       []byte(continuationSecret),
		ContinuationTTL:          continuationTTL,
		GatewayEndpoint:          gatewayEndpoint,
		GatewayTimeout:           gatewayTimeout,
		AdminDestination:         strings.TrimSpace(os.Getenv("DELIVERY_ADMIN_DESTINATION")),
		AdminDashboardBaseURL:    strings.TrimSpace(os.Getenv("ADMIN_SUBMISSION_BASE_URL")),
		EditFormBaseURL:          strings.TrimSpace(os.Getenv("EDIT_FORM_BASE_URL")),
		AllowedOrigins:           parseList("API_ALLOWED_ORIGINS", []string{"*"}),
		SubmitMaxRequests:        envInt("RATE_LIMIT_SUBMIT_MAX", 5),
		SubmitWindow:             envDuration("RATE_LIMIT_SUBMIT_WINDOW", 10*time.Minute),
		DeliverMaxRequests:       envInt("RATE_LIMIT_DELIVER_MAX", 10),
		DeliverWindow:            envDuration("RATE_LIMIT_DELIVER_WINDOW", 10*time.Minute),
	}

	cfg.ServerLog.Printf("loaded config: gatewayEndpoint=%q adminDashboardBaseURL=%q submitPolicy=%d/%s", gatewayEndpoint, cfg.AdminDashboardBaseURL, cfg.SubmitMaxRequests, cfg.SubmitWindow)

	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}

	if len(values) == 0 {
		return fallback
	}
	return values
}
