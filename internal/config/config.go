package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env                string
	Port               int
	DatabaseURL        string
	JWTSecret          string
	TokenTTL           time.Duration
	LogJSON            bool
	RedisAddr          string
	KafkaBrokers       []string
	KafkaTopic         string
	MailOutbox         string
	OTPTTL             time.Duration
	OTPResendCooldown  time.Duration
	OTPMaxAttempts     int
	OTPCleanupInterval time.Duration
	OTPHashCost        int
	TxTimeout          time.Duration
}

func Default() Config {
	return Config{
		Env:                "dev",
		Port:               5000,
		DatabaseURL:        "",
		JWTSecret:          "",
		TokenTTL:           7 * 24 * time.Hour,
		LogJSON:            true,
		KafkaTopic:         "store_notifications",
		OTPTTL:             10 * time.Minute,
		OTPResendCooldown:  60 * time.Second,
		OTPMaxAttempts:     3,
		OTPCleanupInterval: 15 * time.Minute,
		OTPHashCost:        10,
		TxTimeout:          5 * time.Second,
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

func fromEnv(c Config) Config {
	if v := os.Getenv("STORE_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("STORE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("STORE_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("STORE_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	durationEnv("STORE_TOKEN_TTL", &c.TokenTTL)
	if v := os.Getenv("STORE_LOG_JSON"); v != "" {
		switch v {
		case "1", "true", "TRUE":
			c.LogJSON = true
		case "0", "false", "FALSE":
			c.LogJSON = false
		}
	}
	if v := os.Getenv("STORE_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("STORE_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = SplitList(v)
	}
	if v := os.Getenv("STORE_KAFKA_TOPIC"); v != "" {
		c.KafkaTopic = v
	}
	if v := os.Getenv("STORE_MAIL_OUTBOX"); v != "" {
		c.MailOutbox = v
	}
	durationEnv("STORE_OTP_TTL", &c.OTPTTL)
	durationEnv("STORE_OTP_RESEND_COOLDOWN", &c.OTPResendCooldown)
	if v := os.Getenv("STORE_OTP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OTPMaxAttempts = n
		}
	}
	durationEnv("STORE_OTP_CLEANUP_INTERVAL", &c.OTPCleanupInterval)
	if v := os.Getenv("STORE_OTP_HASH_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OTPHashCost = n
		}
	}
	durationEnv("STORE_TX_TIMEOUT", &c.TxTimeout)
	return c
}

func durationEnv(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// SplitList splits a comma separated value and drops empty entries.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port out of range"))
	}
	if c.JWTSecret == "" && c.Env != "dev" {
		errs = append(errs, errors.New("jwt secret required outside dev"))
	}
	if c.TokenTTL <= 0 || c.OTPTTL <= 0 || c.TxTimeout <= 0 || c.OTPCleanupInterval <= 0 {
		errs = append(errs, errors.New("durations must be positive"))
	}
	if c.OTPResendCooldown < 0 {
		errs = append(errs, errors.New("otp resend cooldown must not be negative"))
	}
	if c.OTPMaxAttempts < 1 {
		errs = append(errs, errors.New("otp max attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
