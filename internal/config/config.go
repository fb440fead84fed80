package config

import (
	"flag"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	RunAddress  string
	DatabaseURI string
	JWTSecret   string

	GatewayURL         string
	ConsumerKey        string
	ConsumerSecret     string
	InitiatorName      string
	SecurityCredential string
	ShortCode          string
	CallbackBaseURL    string
	CallbackToken      string
	GatewayTimeout     time.Duration

	OTPTTL            time.Duration
	ApprovalThreshold decimal.Decimal
	ApproverName      string
	ApproverPhone     string

	KafkaBrokers []string

	StaleAfter    time.Duration
	SweepInterval time.Duration

	AdminLogin    string
	AdminPassword string
	AdminName     string
	AdminPhone    string
}

// New reads flags, then lets the environment (and a .env file, if present)
// override them.
func New() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := &Config{}
	var threshold, brokers string

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "server address and port")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.JWTSecret, "s", "super-secret-jwt-key", "jwt signing key")
	flag.StringVar(&cfg.GatewayURL, "g", "https://sandbox.safaricom.co.ke", "payment gateway base URL")
	flag.StringVar(&cfg.CallbackBaseURL, "c", "http://localhost:8080", "public base URL for gateway callbacks")
	flag.DurationVar(&cfg.GatewayTimeout, "gateway-timeout", 30*time.Second, "gateway request timeout")
	flag.DurationVar(&cfg.OTPTTL, "otp-ttl", 10*time.Minute, "one-time code lifetime")
	flag.StringVar(&threshold, "approval-threshold", "0", "amount at or above which a second approver is required, 0 disables")
	flag.StringVar(&brokers, "k", "", "comma separated kafka brokers")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", 30*time.Minute, "age after which a pending withdrawal is reported")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", time.Minute, "sweeper tick")
	flag.Parse()

	cfg.RunAddress = getEnv("RUN_ADDRESS", cfg.RunAddress)
	cfg.DatabaseURI = getEnv("DATABASE_URI", cfg.DatabaseURI)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	cfg.GatewayURL = getEnv("GATEWAY_URL", cfg.GatewayURL)
	cfg.ConsumerKey = getEnv("GATEWAY_CONSUMER_KEY", "")
	cfg.ConsumerSecret = getEnv("GATEWAY_CONSUMER_SECRET", "")
	cfg.InitiatorName = getEnv("GATEWAY_INITIATOR_NAME", "")
	cfg.SecurityCredential = getEnv("GATEWAY_SECURITY_CREDENTIAL", "")
	cfg.ShortCode = getEnv("GATEWAY_SHORTCODE", "")
	cfg.CallbackBaseURL = strings.TrimRight(getEnv("CALLBACK_BASE_URL", cfg.CallbackBaseURL), "/")
	cfg.CallbackToken = getEnv("CALLBACK_TOKEN", "")
	cfg.GatewayTimeout = getDuration("GATEWAY_TIMEOUT", cfg.GatewayTimeout)

	cfg.OTPTTL = getDuration("OTP_TTL", cfg.OTPTTL)
	threshold = getEnv("APPROVAL_THRESHOLD", threshold)
	if d, err := decimal.NewFromString(threshold); err == nil {
		cfg.ApprovalThreshold = d
	} else {
		slog.Warn("invalid approval threshold, approvals disabled", "value", threshold)
	}
	cfg.ApproverName = getEnv("APPROVER_NAME", "")
	cfg.ApproverPhone = getEnv("APPROVER_PHONE", "")

	cfg.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", brokers))

	cfg.StaleAfter = getDuration("STALE_AFTER", cfg.StaleAfter)
	cfg.SweepInterval = getDuration("SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.AdminLogin = getEnv("ADMIN_LOGIN", "")
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", "")
	cfg.AdminName = getEnv("ADMIN_NAME", "Administrator")
	cfg.AdminPhone = getEnv("ADMIN_PHONE", "")

	return cfg
}

// ResultURL and TimeoutURL carry the shared callback token.
func (c *Config) ResultURL() string {
	return c.callbackURL("/api/callbacks/b2c/result")
}

func (c *Config) TimeoutURL() string {
	return c.callbackURL("/api/callbacks/b2c/timeout")
}

func (c *Config) callbackURL(path string) string {
	u := c.CallbackBaseURL + path
	if c.CallbackToken != "" {
		u += "?token=" + url.QueryEscape(c.CallbackToken)
	}
	return u
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
