package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "BOOKPUSH"

var defaults = map[string]interface{}{
	"server.port":                   8080,
	"server.log_level":              "info",
	"server.allowed_origins":        []string{"*"},
	"database.url":                  "",
	"queue.backend":                 "memory",
	"queue.redis_addr":              "",
	"queue.redis_key_prefix":        "bookpush",
	"queue.poll_interval":           "500ms",
	"task.worker_count":             4,
	"task.queue_size":               100,
	"task.stuck_job_age":            "10m",
	"task.stuck_job_check_interval": "1m",
	"task.max_attempts":             3,
	"task.remote_call_delay":        "20s",
	"task.asset_fetch_delay":        "20s",
	"task.notify_delay":             "30s",
	"task.attempt_timeout":          "2m",
	"fetch.timeout":                 "10s",
	"fetch.user_agent":              "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/59.0.3071.115 Safari/537.36",
	"fetch.referer":                 "",
	"fetch.requests_per_second":     5.0,
	"callback.url":                  "",
	"callback.success_status":       "success",
	"storage.data_dir":              "data",
	"storage.out_dir":               "out",
	"storage.cover_dir":             "covers",
	"storage.cover_url_template":    "",
	"converter.command":             "ebook-convert",
	"converter.args":                []string{},
	"mail.host":                     "localhost",
	"mail.port":                     25,
	"mail.username":                 "",
	"mail.password":                 "",
	"mail.from":                     "bookpush@localhost.localdomain",
	"auth.jwt_secret":               "",
	"payload.secret_key":            "",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Every key needs a default so that AutomaticEnv can bind it during Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
