package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Netflix/go-env"

	"github.com/rubickcz/smsgate/internal/domain"
)

// Config is the full process configuration, loaded from environment
// variables. Backend sections are optional; a section is enabled when
// its distinguishing field is set and must then validate completely.
type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	SMS         SMSConfig
	SMSOperator SMSOperatorConfig
	ATS         ATSConfig
	SNS         SNSConfig
	Worker      WorkerConfig
	Reconcile   ReconcileConfig
}

// SMSConfig holds dispatch behavior shared by all backends.
type SMSConfig struct {
	Backend            string `env:"SMS_BACKEND,default=dummy"`
	Debug              bool   `env:"SMS_DEBUG,default=false"`
	AllowAccent        bool   `env:"SMS_ALLOW_ACCENT,default=false"`
	SendTimeoutSeconds int    `env:"SMS_SEND_TIMEOUT_SECONDS,default=30"`
	RateLimitPerSec    int    `env:"SMS_RATE_LIMIT_PER_SEC,default=30"`
}

func (c SMSConfig) Validate() error {
	if strings.TrimSpace(c.Backend) == "" {
		return fmt.Errorf("%w: SMS_BACKEND is required", domain.ErrConfiguration)
	}
	if c.SendTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: SMS_SEND_TIMEOUT_SECONDS must be positive", domain.ErrConfiguration)
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("%w: SMS_RATE_LIMIT_PER_SEC must not be negative", domain.ErrConfiguration)
	}
	return nil
}

// SMSOperatorConfig configures the sms-operator.cz XML gateway.
type SMSOperatorConfig struct {
	URL            string `env:"SMS_OPERATOR_URL,default=https://www.sms-operator.cz/webservices/webservice.aspx"`
	Username       string `env:"SMS_OPERATOR_USERNAME"`
	Password       string `env:"SMS_OPERATOR_PASSWORD"`
	UniqPrefix     string `env:"SMS_OPERATOR_UNIQ_PREFIX"`
	TimeoutSeconds int    `env:"SMS_OPERATOR_TIMEOUT_SECONDS,default=10"`
}

func (c SMSOperatorConfig) Enabled() bool { return c.Username != "" }

func (c SMSOperatorConfig) Validate() error {
	if _, err := url.ParseRequestURI(strings.TrimSpace(c.URL)); err != nil {
		return fmt.Errorf("%w: invalid SMS_OPERATOR_URL: %v", domain.ErrConfiguration, err)
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: SMS_OPERATOR_USERNAME and SMS_OPERATOR_PASSWORD are required", domain.ErrConfiguration)
	}
	if c.UniqPrefix == "" {
		return fmt.Errorf("%w: SMS_OPERATOR_UNIQ_PREFIX is required", domain.ErrConfiguration)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: SMS_OPERATOR_TIMEOUT_SECONDS must be positive", domain.ErrConfiguration)
	}
	return nil
}

// ATSConfig configures the ATS JSON REST gateway.
type ATSConfig struct {
	URL             string `env:"ATS_URL"`
	Username        string `env:"ATS_USERNAME"`
	Password        string `env:"ATS_PASSWORD"`
	UniqPrefix      string `env:"ATS_UNIQ_PREFIX"`
	ValidityMinutes int    `env:"ATS_VALIDITY_MINUTES,default=60"`
	TextID          string `env:"ATS_TEXT_ID"`
	TimeoutSeconds  int    `env:"ATS_TIMEOUT_SECONDS,default=10"`
}

func (c ATSConfig) Enabled() bool { return c.Username != "" }

func (c ATSConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: ATS_URL is required", domain.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(c.URL)); err != nil {
		return fmt.Errorf("%w: invalid ATS_URL: %v", domain.ErrConfiguration, err)
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: ATS_USERNAME and ATS_PASSWORD are required", domain.ErrConfiguration)
	}
	if c.UniqPrefix == "" {
		return fmt.Errorf("%w: ATS_UNIQ_PREFIX is required", domain.ErrConfiguration)
	}
	if c.ValidityMinutes <= 0 {
		return fmt.Errorf("%w: ATS_VALIDITY_MINUTES must be positive", domain.ErrConfiguration)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: ATS_TIMEOUT_SECONDS must be positive", domain.ErrConfiguration)
	}
	return nil
}

// SNSConfig configures the AWS SNS backend.
type SNSConfig struct {
	Region   string `env:"SNS_REGION"`
	SenderID string `env:"SNS_SENDER_ID"`
	Endpoint string `env:"SNS_ENDPOINT"`
}

func (c SNSConfig) Enabled() bool { return c.Region != "" }

func (c SNSConfig) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("%w: SNS_REGION is required", domain.ErrConfiguration)
	}
	return nil
}

// WorkerConfig configures the queue consumer pool.
type WorkerConfig struct {
	Concurrency int `env:"WORKER_CONCURRENCY,default=4"`
	Prefetch    int `env:"WORKER_PREFETCH,default=8"`
}

func (c WorkerConfig) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be positive", domain.ErrConfiguration)
	}
	if c.Prefetch <= 0 {
		return fmt.Errorf("%w: WORKER_PREFETCH must be positive", domain.ErrConfiguration)
	}
	return nil
}

// ReconcileConfig configures delivery status reconciliation.
type ReconcileConfig struct {
	ScanLimit       int `env:"RECONCILE_SCAN_LIMIT,default=500"`
	IntervalSeconds int `env:"RECONCILE_INTERVAL_SECONDS,default=0"`
}

func (c ReconcileConfig) Validate() error {
	if c.ScanLimit <= 0 {
		return fmt.Errorf("%w: RECONCILE_SCAN_LIMIT must be positive", domain.ErrConfiguration)
	}
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("%w: RECONCILE_INTERVAL_SECONDS must not be negative", domain.ErrConfiguration)
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.SMS.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if err := c.Reconcile.Validate(); err != nil {
		return err
	}
	return nil
}
