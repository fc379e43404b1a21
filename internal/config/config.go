// Package config loads service settings from defaults, an optional dotenv
// file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Session window bounds.
const (
	MinSessionTTL = 300 * time.Second
	MaxSessionTTL = 600 * time.Second
)

// Config holds the service settings. Keys are the lower-case environment
// variable names.
type Config struct {
	LaisonURL  string `mapstructure:"laison_url" validate:"required,url"`
	Connection string `mapstructure:"connection"`
	PlatformID string `mapstructure:"platform_id" validate:"required,numeric"`
	RootKey    string `mapstructure:"root_key" validate:"required,hexadecimal,len=32"`

	HubtelFulfillment string `mapstructure:"hubtel_fulfillment" validate:"required,url"`
	HubtelSMS         string `mapstructure:"hubtel_sms" validate:"required,url"`
	HubtelAPIKey      string `mapstructure:"hubtel_api_key" validate:"required"`
	ClientID          string `mapstructure:"client_id" validate:"required"`
	ClientSecret      string `mapstructure:"client_secret" validate:"required"`
	SMSSender         string `mapstructure:"sms_sender" validate:"required"`
	CustomerCare      string `mapstructure:"customer_care" validate:"required"`

	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	SessionCapacity int           `mapstructure:"session_capacity" validate:"min=1"`
	MinAmount       string        `mapstructure:"min_amount" validate:"required,numeric"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	Language        string        `mapstructure:"language" validate:"required"`

	TLSCertFile string `mapstructure:"tls_cert" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `mapstructure:"tls_key" validate:"required_with=TLSCertFile"`
	ACMEDomain  string `mapstructure:"acme_domain" validate:"omitempty,fqdn"`
	ACMEEmail   string `mapstructure:"acme_email" validate:"omitempty,email"`
	ACMEStaging bool   `mapstructure:"acme_staging"`
	CertDB      string `mapstructure:"cert_db"`
}

var defaults = map[string]any{
	"laison_url":         "",
	"connection":         "keep-alive",
	"platform_id":        "1783072172428754944",
	"root_key":           "",
	"hubtel_fulfillment": "",
	"hubtel_sms":         "",
	"hubtel_api_key":     "",
	"client_id":          "",
	"client_secret":      "",
	"sms_sender":         "NUMA",
	"customer_care":      "",
	"port":               8000,
	"session_ttl":        MaxSessionTTL,
	"session_capacity":   100,
	"min_amount":         "10",
	"http_timeout":       30 * time.Second,
	"language":           "en",
	"tls_cert":           "",
	"tls_key":            "",
	"acme_domain":        "",
	"acme_email":         "",
	"acme_staging":       false,
	"cert_db":            "numa-certs.db",
}

// Keys lists every configuration key.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// FlagKey maps a flag name to its configuration key.
func FlagKey(flag string) string { return strings.ReplaceAll(flag, "-", "_") }

// Load reads configuration. envFile may be empty or name a file that does not
// exist; flags, if non-nil, override every other source for the flags that
// were set.
func Load(envFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := FlagKey(f.Name)
			if _, ok := defaults[key]; !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for the serve command.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SessionTTL < MinSessionTTL || c.SessionTTL > MaxSessionTTL {
		return fmt.Errorf("invalid config: session_ttl %s outside %s..%s", c.SessionTTL, MinSessionTTL, MaxSessionTTL)
	}
	if c.ACMEDomain != "" && c.TLSCertFile != "" {
		return errors.New("invalid config: acme_domain and tls_cert are mutually exclusive")
	}
	return nil
}

// MinimumAmount returns the parsed minimum top-up amount.
func (c *Config) MinimumAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MinAmount)
}

// TLSMode reports which TLS mode the configuration selects.
func (c *Config) TLSMode() string {
	switch {
	case c.ACMEDomain != "":
		return "acme"
	case c.TLSCertFile != "":
		return "manual"
	}
	return "none"
}
