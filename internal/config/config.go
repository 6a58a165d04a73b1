package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	Fetch     FetchConfig     `mapstructure:"fetch" validate:"required"`
	Callback  CallbackConfig  `mapstructure:"callback"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Converter ConverterConfig `mapstructure:"converter" validate:"required"`
	Mail      MailConfig      `mapstructure:"mail" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Payload   PayloadConfig   `mapstructure:"payload"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel       string   `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory stores.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// QueueConfig selects the execution substrate's job queue.
type QueueConfig struct {
	Backend        string        `mapstructure:"backend" validate:"required,oneof=memory redis"`
	RedisAddr      string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisKeyPrefix string        `mapstructure:"redis_key_prefix" validate:"required"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// TaskConfig contains the dispatcher and retry policy settings.
type TaskConfig struct {
	WorkerCount           int           `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize             int           `mapstructure:"queue_size" validate:"required,gt=0"`
	StuckJobAge           time.Duration `mapstructure:"stuck_job_age" validate:"gt=0,gtfield=AttemptTimeout"`
	StuckJobCheckInterval time.Duration `mapstructure:"stuck_job_check_interval" validate:"gt=0"`
	MaxAttempts           int           `mapstructure:"max_attempts" validate:"required,gt=0"`
	RemoteCallDelay       time.Duration `mapstructure:"remote_call_delay" validate:"gte=0"`
	AssetFetchDelay       time.Duration `mapstructure:"asset_fetch_delay" validate:"gte=0"`
	NotifyDelay           time.Duration `mapstructure:"notify_delay" validate:"gte=0"`
	AttemptTimeout        time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
}

// FetchConfig configures the remote asset fetcher.
type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent         string        `mapstructure:"user_agent" validate:"required"`
	Referer           string        `mapstructure:"referer"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
}

// CallbackConfig configures the optional status report sent through a
// remote_call job when a submission reaches a terminal status.
type CallbackConfig struct {
	URL           string `mapstructure:"url" validate:"omitempty,url"`
	SuccessStatus string `mapstructure:"success_status" validate:"required"`
}

// StorageConfig contains the on-disk layout for rendered sources and artifacts.
type StorageConfig struct {
	DataDir          string `mapstructure:"data_dir" validate:"required"`
	OutDir           string `mapstructure:"out_dir" validate:"required"`
	CoverDir         string `mapstructure:"cover_dir" validate:"required"`
	CoverURLTemplate string `mapstructure:"cover_url_template"`
}

// ConverterConfig names the external e-book conversion command.
type ConverterConfig struct {
	Command string   `mapstructure:"command" validate:"required"`
	Args    []string `mapstructure:"args"`
}

// MailConfig contains SMTP delivery settings.
type MailConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required,email"`
}

// AuthConfig contains client authentication settings. An empty secret disables
// bearer-token checks.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// PayloadConfig holds the optional key used to decrypt submitted payloads.
type PayloadConfig struct {
	SecretKey string `mapstructure:"secret_key" validate:"omitempty,len=32"`
}
