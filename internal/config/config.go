package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	CRM       CRMConfig       `yaml:"crm" mapstructure:"crm"`
	Portal    PortalConfig    `yaml:"portal" mapstructure:"portal"`
	Directory DirectoryConfig `yaml:"directory" mapstructure:"directory"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Reset     ResetConfig     `yaml:"reset" mapstructure:"reset"`
	Tiers     TiersConfig     `yaml:"tiers" mapstructure:"tiers"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds TLD CRM endpoints, credentials and the retry policy.
type CRMConfig struct {
	EgressURL  string      `yaml:"egress_url" mapstructure:"egress_url"`
	IngressURL string      `yaml:"ingress_url" mapstructure:"ingress_url"`
	APIID      string      `yaml:"api_id" mapstructure:"api_id"`
	APIKey     string      `yaml:"api_key" mapstructure:"api_key"`
	Cookie     string      `yaml:"cookie" mapstructure:"cookie"`
	RateLimit  float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry      RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig is the operator-facing retry policy. max_attempts 0 retries
// until success.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// PortalConfig configures the eligibility lookup sidecar.
type PortalConfig struct {
	BaseURL            string             `yaml:"base_url" mapstructure:"base_url"`
	LookupAttempts     int                `yaml:"lookup_attempts" mapstructure:"lookup_attempts"`
	LookupBackoffSecs  int                `yaml:"lookup_backoff_secs" mapstructure:"lookup_backoff_secs"`
	RequestTimeoutSecs int                `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	Credentials        []PortalCredential `yaml:"credentials" mapstructure:"credentials"`
}

// PortalCredential is one portal account. Partition i signs in with entry i.
type PortalCredential struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Mailbox  string `yaml:"mailbox" mapstructure:"mailbox"`
}

// DirectoryConfig locates the contract directory workbook.
type DirectoryConfig struct {
	Path                string `yaml:"path" mapstructure:"path"`
	Sheet               string `yaml:"sheet" mapstructure:"sheet"`
	RefreshIntervalSecs int    `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"`
}

// OutputConfig locates the run artifacts.
type OutputConfig struct {
	UpdateCSV string `yaml:"update_csv" mapstructure:"update_csv"`
	ErrorDir  string `yaml:"error_dir" mapstructure:"error_dir"`
}

// ResetConfig configures the bulk plan-change-result reset.
type ResetConfig struct {
	Rate             float64 `yaml:"rate" mapstructure:"rate"`
	Capacity         int     `yaml:"capacity" mapstructure:"capacity"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	BackoffMs        int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TiersConfig configures the tiering export.
type TiersConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// NotifyConfig selects how the completion report is delivered.
type NotifyConfig struct {
	Provider   string    `yaml:"provider" mapstructure:"provider"`
	WebhookURL string    `yaml:"webhook_url" mapstructure:"webhook_url"`
	SES        SESConfig `yaml:"ses" mapstructure:"ses"`
}

// SESConfig configures Amazon SES delivery.
type SESConfig struct {
	Region string   `yaml:"region" mapstructure:"region"`
	From   string   `yaml:"from" mapstructure:"from"`
	To     []string `yaml:"to" mapstructure:"to"`
}

// MetricsConfig configures the Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// StoreConfig locates the run ledger.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crm.egress_url", "https://cm.tldcrm.com/api/egress")
	v.SetDefault("crm.ingress_url", "https://cm.tldcrm.com/api/ingress")
	v.SetDefault("crm.api_id", "")
	v.SetDefault("crm.api_key", "")
	v.SetDefault("crm.cookie", "")
	v.SetDefault("crm.rate_limit", 0)
	v.SetDefault("crm.retry.max_attempts", 0)
	v.SetDefault("crm.retry.initial_backoff_ms", 1000)
	v.SetDefault("crm.retry.max_backoff_ms", 1000)
	v.SetDefault("crm.retry.multiplier", 1.0)
	v.SetDefault("crm.retry.jitter_fraction", 0.0)
	v.SetDefault("portal.base_url", "http://localhost:8765")
	v.SetDefault("portal.lookup_attempts", 3)
	v.SetDefault("portal.lookup_backoff_secs", 10)
	v.SetDefault("portal.request_timeout_secs", 90)
	v.SetDefault("directory.path", "contract_directory.xlsx")
	v.SetDefault("directory.sheet", "")
	v.SetDefault("directory.refresh_interval_secs", 0)
	v.SetDefault("output.update_csv", "MARx_Update.csv")
	v.SetDefault("output.error_dir", ".")
	v.SetDefault("reset.rate", 10)
	v.SetDefault("reset.capacity", 10)
	v.SetDefault("reset.workers", 3)
	v.SetDefault("reset.backoff_ms", 1000)
	v.SetDefault("reset.poll_interval_secs", 30)
	v.SetDefault("reset.timeout_secs", 10)
	v.SetDefault("tiers.output_dir", ".")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.ses.region", "us-east-1")
	v.SetDefault("notify.ses.from", "")
	v.SetDefault("notify.ses.to", []string{})
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "marx_cli")
	v.SetDefault("store.path", "marx.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if creds := envCredentials(); len(creds) > 0 {
		cfg.Portal.Credentials = creds
	}

	return &cfg, nil
}

// envCredentials reads MARX_PORTAL_CREDENTIALS_<n>_USERNAME, _PASSWORD and
// _MAILBOX for n = 1, 2, ... and stops at the first missing username.
// Entry n is used by partition n.
func envCredentials() []PortalCredential {
	var creds []PortalCredential
	for n := 1; ; n++ {
		prefix := "MARX_PORTAL_CREDENTIALS_" + strconv.Itoa(n) + "_"
		user, ok := os.LookupEnv(prefix + "USERNAME")
		if !ok || user == "" {
			return creds
		}
		creds = append(creds, PortalCredential{
			Username: user,
			Password: os.Getenv(prefix + "PASSWORD"),
			Mailbox:  os.Getenv(prefix + "MAILBOX"),
		})
	}
}

// Validate checks the settings a command needs. mode is the command name.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireCRM := func() {
		if c.CRM.APIID == "" {
			errs = append(errs, "crm.api_id is required")
		}
		if c.CRM.APIKey == "" {
			errs = append(errs, "crm.api_key is required")
		}
	}

	switch mode {
	case "reconcile":
		requireCRM()
		if c.Portal.BaseURL == "" {
			errs = append(errs, "portal.base_url is required")
		}
		if c.Portal.LookupAttempts < 1 {
			errs = append(errs, "portal.lookup_attempts must be >= 1")
		}
		if c.Directory.Path == "" {
			errs = append(errs, "directory.path is required")
		}
		switch c.Notify.Provider {
		case "", "none":
		case "webhook":
			if c.Notify.WebhookURL == "" {
				errs = append(errs, "notify.webhook_url is required for the webhook provider")
			}
		case "ses":
			if c.Notify.SES.From == "" || len(c.Notify.SES.To) == 0 {
				errs = append(errs, "notify.ses.from and notify.ses.to are required for the ses provider")
			}
		default:
			errs = append(errs, "notify.provider must be one of none, webhook, ses")
		}
	case "reset":
		requireCRM()
		if c.Reset.Rate <= 0 {
			errs = append(errs, "reset.rate must be > 0")
		}
		if c.Reset.Capacity < 1 {
			errs = append(errs, "reset.capacity must be >= 1")
		}
		if c.Reset.Workers < 1 {
			errs = append(errs, "reset.workers must be >= 1")
		}
	case "tiers":
		requireCRM()
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidatePartitions checks that every one of workers partitions has its own
// portal credential set.
func (c *Config) ValidatePartitions(workers int) error {
	if workers < 1 {
		return eris.Errorf("config: workers must be >= 1, got %d", workers)
	}
	have := len(c.Portal.Credentials)
	if have < workers {
		return eris.Errorf("config: portal.credentials has %d entries, %d workers need one each", have, workers)
	}
	for i, cred := range c.Portal.Credentials[:workers] {
		if cred.Username == "" || cred.Password == "" {
			return eris.Errorf("config: portal.credentials[%d] needs username and password", i)
		}
	}
	return nil
}

const redacted = "********"

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	out.CRM.APIID = mask(c.CRM.APIID)
	out.CRM.APIKey = mask(c.CRM.APIKey)
	out.CRM.Cookie = mask(c.CRM.Cookie)
	out.Portal.Credentials = make([]PortalCredential, len(c.Portal.Credentials))
	for i, cred := range c.Portal.Credentials {
		cred.Password = mask(cred.Password)
		out.Portal.Credentials[i] = cred
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
