package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		APIKey string `yaml:"api_key"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Enabled         bool   `yaml:"enabled"`
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Booking struct {
		MinAdvanceMinutes     int `yaml:"min_advance_minutes"`
		MaxAdvanceDays        int `yaml:"max_advance_days"`
		MaxActivePerRequester int `yaml:"max_active_per_requester"`
		HoldTTLMinutes        int `yaml:"hold_ttl_minutes"`
	} `yaml:"booking"`

	Waitlist struct {
		FanOut            int     `yaml:"fan_out"`
		OfferTTLHours     int     `yaml:"offer_ttl_hours"`
		EntryTTLDays      int     `yaml:"entry_ttl_days"`
		NotifyConcurrency int     `yaml:"notify_concurrency"`
		NotifyPerSecond   float64 `yaml:"notify_per_second"`
	} `yaml:"waitlist"`

	Sweeper struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"sweeper"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/kennelbook.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) BookingMinAdvance() time.Duration {
	return time.Duration(c.Booking.MinAdvanceMinutes) * time.Minute
}

func (c *Config) BookingMaxAdvance() time.Duration {
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) BookingHoldTTL() time.Duration {
	if c.Booking.HoldTTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Booking.HoldTTLMinutes) * time.Minute
}

func (c *Config) OfferTTL() time.Duration {
	if c.Waitlist.OfferTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Waitlist.OfferTTLHours) * time.Hour
}

func (c *Config) EntryTTL() time.Duration {
	if c.Waitlist.EntryTTLDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.Waitlist.EntryTTLDays) * 24 * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	if c.Sweeper.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

func (c *Config) RedisCacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}
