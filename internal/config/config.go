package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSigningKeyLength is the shortest accepted HS256 secret.
const MinSigningKeyLength = 32

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	JWTSigningKey   string
	JWTKeyID        string
	JWTPreviousKeys map[string]string
	JWTIssuer       string
	ClaimsTTL       time.Duration
	AccessTokenTTL  time.Duration
	AuthCodeTTL     time.Duration

	OAuthClients      []ClientConfig
	ServiceIdentity   string
	ServiceIdentities []string

	BrokerDriver          string
	RabbitMQURL           string
	SQSRegion             string
	SQSEndpoint           string
	BrokerConnectAttempts int
	BrokerConnectDelay    time.Duration

	ContextStore  string
	ContextTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	OrdersURL       string
	PaymentsURL     string
	ShippingURL     string
	CatalogURL      string
	UpstreamTimeout time.Duration

	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// ClientConfig is a statically registered OAuth client.
type ClientConfig struct {
	ID           string   `json:"id"`
	Secret       string   `json:"secret,omitempty"`
	SecretHash   string   `json:"secret_hash,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	signingKey := strings.TrimSpace(os.Getenv("JWT_SIGNING_KEY"))
	if signingKey == "" {
		return Config{}, fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if len(signingKey) < MinSigningKeyLength {
		return Config{}, fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes", MinSigningKeyLength)
	}

	previousKeys, err := parseKeyList(os.Getenv("JWT_PREVIOUS_KEYS"))
	if err != nil {
		return Config{}, fmt.Errorf("JWT_PREVIOUS_KEYS: %w", err)
	}

	cfg := Config{
		Environment:     getEnv("APP_ENV", "development"),
		HTTPPort:        getEnv("HTTP_PORT", "3003"),
		ServiceName:     getEnv("SERVICE_NAME", "orchestrator-service"),
		JWTSigningKey:   signingKey,
		JWTKeyID:        getEnv("JWT_KEY_ID", "primary"),
		JWTPreviousKeys: previousKeys,
		JWTIssuer:       getEnv("JWT_ISSUER", "orchestrator-service"),
		ClaimsTTL:       getDuration("CLAIMS_TTL", 24*time.Hour),
		AccessTokenTTL:  getDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		AuthCodeTTL:     getDuration("AUTH_CODE_TTL", 10*time.Minute),

		ServiceIdentity:   getEnv("SERVICE_IDENTITY", "orchestrator-service"),
		ServiceIdentities: getList("SERVICE_IDENTITIES", []string{"orchestrator-service"}),

		BrokerDriver:          strings.ToLower(getEnv("BROKER_DRIVER", "amqp")),
		RabbitMQURL:           getEnv("RABBITMQ_URL", "amqp://rabbitmq"),
		SQSRegion:             getEnv("SQS_REGION", "us-east-1"),
		SQSEndpoint:           os.Getenv("SQS_ENDPOINT"),
		BrokerConnectAttempts: getInt("BROKER_CONNECT_ATTEMPTS", 5),
		BrokerConnectDelay:    getDuration("BROKER_CONNECT_DELAY", 5*time.Second),

		ContextStore:  strings.ToLower(getEnv("CONTEXT_STORE", "memory")),
		ContextTTL:    getDuration("CONTEXT_TTL", 24*time.Hour),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		OrdersURL:       getEnv("ORDERS_URL", "http://orders:3000"),
		PaymentsURL:     getEnv("PAYMENTS_URL", "http://payments:3001"),
		ShippingURL:     getEnv("SHIPPING_URL", "http://shipping:3002"),
		CatalogURL:      getEnv("CATALOG_URL", "http://catalog:8080"),
		UpstreamTimeout: getDuration("UPSTREAM_TIMEOUT", 10*time.Second),

		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	clients, err := loadClients(os.Getenv("OAUTH_CLIENTS"), cfg.Environment)
	if err != nil {
		return Config{}, err
	}
	cfg.OAuthClients = clients

	switch cfg.BrokerDriver {
	case "amqp", "sqs", "memory":
	default:
		return Config{}, fmt.Errorf("BROKER_DRIVER must be one of amqp, sqs, memory")
	}
	switch cfg.ContextStore {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("CONTEXT_STORE must be one of memory, redis")
	}
	if cfg.BrokerConnectAttempts < 1 {
		cfg.BrokerConnectAttempts = 1
	}

	return cfg, nil
}

func loadClients(raw, env string) ([]ClientConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if env != "development" {
			return nil, fmt.Errorf("OAUTH_CLIENTS is required outside development")
		}
		return DevelopmentClients(), nil
	}
	var clients []ClientConfig
	if err := json.Unmarshal([]byte(raw), &clients); err != nil {
		return nil, fmt.Errorf("OAUTH_CLIENTS must be a JSON array: %w", err)
	}
	for i, c := range clients {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("OAUTH_CLIENTS[%d]: id is required", i)
		}
		if c.Secret == "" && c.SecretHash == "" {
			return nil, fmt.Errorf("OAUTH_CLIENTS[%d]: secret or secret_hash is required", i)
		}
	}
	return clients, nil
}

// DevelopmentClients mirrors the clients the downstream services are deployed with locally.
func DevelopmentClients() []ClientConfig {
	return []ClientConfig{
		{
			ID:           "orders-service-client",
			Secret:       "orders-service-secret",
			RedirectURIs: []string{"http://localhost:3000/auth/callback"},
			Scopes:       []string{"read", "write"},
		},
		{
			ID:           "payments-service-client",
			Secret:       "payments-service-secret",
			RedirectURIs: []string{"http://localhost:3001/auth/callback"},
			Scopes:       []string{"read", "write", "payments"},
		},
		{
			ID:           "shipping-service-client",
			Secret:       "shipping-service-secret",
			RedirectURIs: []string{"http://localhost:3002/auth/callback"},
			Scopes:       []string{"read", "write", "shipping"},
		},
		{
			ID:           "orchestrator-admin-client",
			Secret:       "orchestrator-admin-secret",
			RedirectURIs: []string{"http://localhost:3003/auth/callback"},
			Scopes:       []string{"read", "write", "admin"},
		},
	}
}

// parseKeyList parses "kid:secret,kid:secret".
func parseKeyList(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kid, secret, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(kid) == "" || strings.TrimSpace(secret) == "" {
			return nil, fmt.Errorf("entry %q must be kid:secret", part)
		}
		if len(strings.TrimSpace(secret)) < MinSigningKeyLength {
			return nil, fmt.Errorf("key %q must be at least %d bytes", kid, MinSigningKeyLength)
		}
		out[strings.TrimSpace(kid)] = strings.TrimSpace(secret)
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
