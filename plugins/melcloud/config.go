package melcloud

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/melcloud/internal/config"
	"github.com/joshp123/melcloud/internal/rate"
)

const providerName = "melcloud"

// Config defines runtime configuration for the MELCloud client.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Language   int
	AppVersion string
	Location   *time.Location

	Retries        int
	ShortInterval  time.Duration
	LongInterval   time.Duration
	RequestTimeout time.Duration
}

func ConfigFromFile(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("melcloud config is required")
	}
	loc, err := time.LoadLocation(cfg.Account.TimeZone)
	if err != nil {
		return Config{}, fmt.Errorf("melcloud time_zone: %w", err)
	}
	return Config{
		BaseURL:        strings.TrimRight(cfg.Account.BaseURL, "/"),
		Username:       cfg.Account.Username,
		Password:       cfg.Account.Password,
		Language:       cfg.Account.Language,
		AppVersion:     cfg.Account.AppVersion,
		Location:       loc,
		Retries:        cfg.Transport.Retries,
		ShortInterval:  cfg.Transport.ShortInterval,
		LongInterval:   cfg.Transport.LongInterval,
		RequestTimeout: cfg.Transport.RequestTimeout,
	}, nil
}

// RateLimits declares how calls to the account must be paced.
func (c Config) RateLimits() rate.Declaration {
	return rate.Provider(providerName).
		WaitAfterSuccess(c.ShortInterval).
		WaitAfterError(c.LongInterval).
		MaxAttempts(c.Retries).
		AttemptTimeout(c.RequestTimeout)
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = config.DefaultBaseURL
	}
	if c.Language == 0 {
		c.Language = config.DefaultLanguage
	}
	if c.AppVersion == "" {
		c.AppVersion = config.DefaultAppVersion
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Retries == 0 {
		c.Retries = config.DefaultRetries
	}
	if c.ShortInterval == 0 {
		c.ShortInterval = config.DefaultShortInterval
	}
	if c.LongInterval == 0 {
		c.LongInterval = config.DefaultLongInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = config.DefaultRequestTimeout
	}
	return c
}
