package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	OTP         OTPConfig
	RateLimit   RateLimitConfig
	Delivery    DeliveryConfig
	DynamoDB    DynamoDBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Maintenance MaintenanceConfig
	LogLevel    string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type OTPConfig struct {
	Length         int
	Expiry         time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	CountryCode    string
	// DevMode echoes issued codes back in API responses. Never enable it in production.
	DevMode bool
}

type RateLimitConfig struct {
	PerNumberLimit  int
	PerNumberWindow time.Duration
	SendPerIP       int
	VerifyPerIP     int
	IPWindow        time.Duration
}

type DeliveryConfig struct {
	Transport   string
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64
	Spacing     time.Duration
	SendTimeout time.Duration
	WebhookURL  string
	WebhookKey  string
	SNSSenderID string
	SNSRegion   string
	NATSURL     string
	NATSSubject string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
	Expiry    time.Duration
	Issuer    string
}

type MaintenanceConfig struct {
	Schedule string
}

const (
	TransportSimulated = "simulated"
	TransportWebhook   = "webhook"
	TransportSNS       = "sns"
	TransportNATS      = "nats"
)

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "3000"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		OTP: OTPConfig{
			Length:         getEnvAsInt("OTP_LENGTH", 6),
			Expiry:         getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", time.Minute),
			CountryCode:    getEnv("OTP_COUNTRY_CODE", "+91"),
			DevMode:        getEnvAsBool("DEV_MODE", false),
		},
		RateLimit: RateLimitConfig{
			PerNumberLimit:  getEnvAsInt("RATE_LIMIT_PER_NUMBER", 3),
			PerNumberWindow: getEnvAsDuration("RATE_LIMIT_PER_NUMBER_WINDOW", time.Minute),
			SendPerIP:       getEnvAsInt("RATE_LIMIT_SEND_PER_IP", 5),
			VerifyPerIP:     getEnvAsInt("RATE_LIMIT_VERIFY_PER_IP", 10),
			IPWindow:        getEnvAsDuration("RATE_LIMIT_IP_WINDOW", 15*time.Minute),
		},
		Delivery: DeliveryConfig{
			Transport:   strings.ToLower(getEnv("DELIVERY_TRANSPORT", TransportSimulated)),
			MinLatency:  getEnvAsDuration("DELIVERY_MIN_LATENCY", 2*time.Second),
			MaxLatency:  getEnvAsDuration("DELIVERY_MAX_LATENCY", 3*time.Second),
			SuccessRate: getEnvAsFloat("DELIVERY_SUCCESS_RATE", 0.95),
			Spacing:     getEnvAsDuration("DELIVERY_SPACING", 500*time.Millisecond),
			SendTimeout: getEnvAsDuration("DELIVERY_SEND_TIMEOUT", 10*time.Second),
			WebhookURL:  getEnv("DELIVERY_WEBHOOK_URL", ""),
			WebhookKey:  getEnv("DELIVERY_WEBHOOK_KEY", ""),
			SNSSenderID: getEnv("SNS_SENDER_ID", "OTPAPP"),
			SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
			NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
			NATSSubject: getEnv("NATS_SUBJECT", "sms.otp.send"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", ""),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
			Expiry:    getEnvAsDuration("JWT_EXPIRY", 15*time.Minute),
			Issuer:    getEnv("JWT_ISSUER", "otpverify"),
		},
		Maintenance: MaintenanceConfig{
			Schedule: getEnv("MAINTENANCE_SCHEDULE", "@every 5m"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.RateLimit.PerNumberLimit < 1 || c.RateLimit.PerNumberWindow <= 0 {
		return fmt.Errorf("per-number rate limit must have a positive limit and window")
	}
	if c.Delivery.MinLatency < 0 || c.Delivery.MaxLatency < c.Delivery.MinLatency {
		return fmt.Errorf("DELIVERY_MAX_LATENCY must not be below DELIVERY_MIN_LATENCY")
	}
	if c.Delivery.SuccessRate < 0 || c.Delivery.SuccessRate > 1 {
		return fmt.Errorf("DELIVERY_SUCCESS_RATE must be within [0, 1]")
	}

	switch c.Delivery.Transport {
	case TransportSimulated, TransportSNS, TransportNATS:
	case TransportWebhook:
		if c.Delivery.WebhookURL == "" {
			return fmt.Errorf("DELIVERY_WEBHOOK_URL is required for the webhook transport")
		}
	default:
		return fmt.Errorf("unknown DELIVERY_TRANSPORT %q", c.Delivery.Transport)
	}

	if c.JWT.SecretKey != "" && len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
