package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "IMAPFEED"

type Config struct {
	PollInterval int    `mapstructure:"poll_interval"`
	Filter       string `mapstructure:"filter"`

	MailServer   string `mapstructure:"mail_server"`
	MailPort     int    `mapstructure:"mail_port"`
	MailUser     string `mapstructure:"mail_user"`
	MailPassword string `mapstructure:"mail_password"`
	MailBox      string `mapstructure:"mail_box"`
	// MailTLS disables implicit TLS when false, for local test servers.
	MailTLS   bool `mapstructure:"mail_tls"`
	MailDebug bool `mapstructure:"mail_debug"`

	NoopInterval   int `mapstructure:"noop_interval"`
	MinDelay       int `mapstructure:"min_delay"`
	MaxDelay       int `mapstructure:"max_delay"`
	CommandTimeout int `mapstructure:"command_timeout"`

	LogLevel    string `mapstructure:"log_level"`
	LogDev      bool   `mapstructure:"log_dev"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Sink   SinkConfig   `mapstructure:"sink"`
	Twilio TwilioConfig `mapstructure:"twilio"`
	OAuth2 OAuth2Config `mapstructure:"oauth2"`
}

type SinkConfig struct {
	// Type is one of "log", "sqlite" or "dynamodb", or a comma separated
	// list of them, e.g. "sqlite,log", to emit every event to each.
	Type   string `mapstructure:"type"`
	Path   string `mapstructure:"path"`
	Table  string `mapstructure:"table"`
	Region string `mapstructure:"region"`
}

type TwilioConfig struct {
	AccountSid string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
}

// Types returns the configured sink types, in order. An empty Type means
// the log sink.
func (s SinkConfig) Types() []string {
	var types []string
	for _, t := range strings.Split(s.Type, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return []string{"log"}
	}
	return types
}

// Has reports whether sinkType is one of the configured sinks.
func (s SinkConfig) Has(sinkType string) bool {
	for _, t := range s.Types() {
		if t == sinkType {
			return true
		}
	}
	return false
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSid != "" && t.AuthToken != "" && t.From != "" && t.To != ""
}

type OAuth2Config struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	TokenURL     string `mapstructure:"token_url"`
}

func (o OAuth2Config) Enabled() bool {
	return o.RefreshToken != "" && o.TokenURL != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", 300)
	v.SetDefault("filter", "(UNSEEN)")
	v.SetDefault("mail_server", "")
	v.SetDefault("mail_port", 993)
	v.SetDefault("mail_user", "")
	v.SetDefault("mail_password", "")
	v.SetDefault("mail_box", "INBOX")
	v.SetDefault("mail_tls", true)
	v.SetDefault("mail_debug", false)
	v.SetDefault("noop_interval", 10)
	v.SetDefault("min_delay", 5)
	v.SetDefault("max_delay", 60)
	v.SetDefault("command_timeout", 120)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("sink.type", "log")
	v.SetDefault("sink.path", "imapfeed.db")
	v.SetDefault("sink.table", "")
	v.SetDefault("sink.region", "")
	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from", "")
	v.SetDefault("twilio.to", "")
	v.SetDefault("oauth2.client_id", "")
	v.SetDefault("oauth2.client_secret", "")
	v.SetDefault("oauth2.refresh_token", "")
	v.SetDefault("oauth2.token_url", "")
}

// Load reads path (JSON unless the extension says otherwise) and applies
// IMAPFEED_* environment overrides, e.g. IMAPFEED_MAIL_PASSWORD or
// IMAPFEED_SINK_TYPE. A missing file leaves only defaults and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if !strings.Contains(path, ".") {
			v.SetConfigType("json")
		}

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that have no usable default. mail_password is not
// checked because it may still come from the keyring or a prompt.
func (c *Config) Validate() error {
	if c.MailServer == "" {
		return errors.New("mail_server must be set")
	}
	if c.MailUser == "" {
		return errors.New("mail_user must be set")
	}
	if c.MailPort <= 0 || c.MailPort > 65535 {
		return fmt.Errorf("mail_port %d is out of range", c.MailPort)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %d", c.PollInterval)
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("min_delay %d is greater than max_delay %d", c.MinDelay, c.MaxDelay)
	}

	seen := make(map[string]bool)
	for _, sinkType := range c.Sink.Types() {
		if seen[sinkType] {
			return fmt.Errorf("sink %q is listed twice in sink.type", sinkType)
		}
		seen[sinkType] = true

		switch sinkType {
		case "log", "sqlite":
		case "dynamodb":
			if c.Sink.Table == "" || c.Sink.Region == "" {
				return errors.New("sink.table and sink.region are required for the dynamodb sink")
			}
		default:
			return fmt.Errorf("unknown sink type %q in sink.type", sinkType)
		}
	}

	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) PollEvery() time.Duration       { return seconds(c.PollInterval) }
func (c *Config) NoopEvery() time.Duration       { return seconds(c.NoopInterval) }
func (c *Config) MinBackoff() time.Duration      { return seconds(c.MinDelay) }
func (c *Config) MaxBackoff() time.Duration      { return seconds(c.MaxDelay) }
func (c *Config) CommandDeadline() time.Duration { return seconds(c.CommandTimeout) }
