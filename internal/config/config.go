package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is matched by every ConfigError.
var ErrInvalid = errors.New("configuration error")

// ConfigError 启动前的配置校验错误，不重试
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalid }

type Config struct {
	Server   ServerConfig
	Bot      BotConfig
	Session  SessionConfig
	Data     DataConfig
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Pairing  PairingConfig
	Storage  StorageConfig
	JWT      JWTConfig
	Tracing  TracingConfig `mapstructure:"tracing"`
	Log      LogConfig

	// 运行时字段，不来自配置文件
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// 每个 IP 每分钟的请求数
	RateLimit int `mapstructure:"rate_limit"`
}

type BotConfig struct {
	Name              string        `mapstructure:"name"`
	QuestionsChannel  string        `mapstructure:"questions_channel_id"`
	AnswersChannel    string        `mapstructure:"answers_channel_id"`
	DailyQuestions    int           `mapstructure:"daily_questions"`
	RevealDelay       time.Duration `mapstructure:"reveal_delay"`
	SlotDelay         time.Duration `mapstructure:"slot_delay"`
	SendRatePerMinute int           `mapstructure:"send_rate_per_minute"`
	ScheduleTimes     []string      `mapstructure:"schedule_times"`
}

type SessionConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type DataConfig struct {
	QuestionsFile   string `mapstructure:"questions_file"`
	LedgerFile      string `mapstructure:"ledger_file"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type WhatsAppConfig struct {
	StorePath  string `mapstructure:"store_path"`
	DeviceName string `mapstructure:"device_name"`
	LogLevel   string `mapstructure:"log_level"`
}

type PairingConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	ImageSize int    `mapstructure:"image_size"`
	Terminal  bool   `mapstructure:"terminal"`
	Upload    bool   `mapstructure:"upload"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioSecure   bool   `mapstructure:"minio_secure"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_time"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit", 60)

	v.SetDefault("bot.name", "MCQ Bot")
	v.SetDefault("bot.daily_questions", 4)
	v.SetDefault("bot.reveal_delay", 2*time.Second)
	v.SetDefault("bot.slot_delay", 10*time.Second)
	v.SetDefault("bot.send_rate_per_minute", 20)
	v.SetDefault("bot.schedule_times", []string{"09:00", "12:00", "15:00", "18:00"})

	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.reconnect_delay", 5*time.Second)
	v.SetDefault("session.connect_timeout", 120*time.Second)

	v.SetDefault("data.questions_file", "questions.json")
	v.SetDefault("data.ledger_file", "sent_questions.json")
	v.SetDefault("data.credentials_file", "auth/session.json")

	v.SetDefault("whatsapp.store_path", "auth/whatsmeow.db")
	v.SetDefault("whatsapp.device_name", "MCQ Bot")
	v.SetDefault("whatsapp.log_level", "warn")

	v.SetDefault("pairing.output_dir", ".")
	v.SetDefault("pairing.image_size", 512)
	v.SetDefault("pairing.terminal", true)
	v.SetDefault("pairing.upload", false)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "uploads")

	v.SetDefault("jwt.expire_time", 24*time.Hour)

	v.SetDefault("log.file", "logs/bot.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MCQ_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bot
	v.BindEnv("bot.questions_channel_id", "QUESTIONS_CHANNEL_ID")
	v.BindEnv("bot.answers_channel_id", "ANSWERS_CHANNEL_ID")
	v.BindEnv("bot.daily_questions", "DAILY_QUESTIONS")
	v.BindEnv("bot.schedule_times", "SCHEDULE_TIMES")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Storage / OSS
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")
}

// LoadConfig reads configs/config.yaml (optional) under path, then the
// environment. A missing config file is not an error; everything has a default
// except the two destinations.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	// SCHEDULE_TIMES="09:00,18:00" 从环境变量读进来是单个元素
	cfg.Bot.ScheduleTimes = splitList(cfg.Bot.ScheduleTimes)

	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate runs the pre-flight checks. It must pass before any connection
// attempt is made.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.QuestionsChannel) == "" {
		return &ConfigError{Field: "QUESTIONS_CHANNEL_ID", Reason: "must be set"}
	}
	if strings.TrimSpace(c.Bot.AnswersChannel) == "" {
		return &ConfigError{Field: "ANSWERS_CHANNEL_ID", Reason: "must be set"}
	}
	if c.Bot.DailyQuestions <= 0 {
		return &ConfigError{Field: "bot.daily_questions", Reason: "must be positive"}
	}
	if c.Bot.RevealDelay < 0 || c.Bot.SlotDelay < 0 {
		return &ConfigError{Field: "bot.reveal_delay/bot.slot_delay", Reason: "must not be negative"}
	}
	if c.Session.MaxRetries < 0 {
		return &ConfigError{Field: "session.max_retries", Reason: "must not be negative"}
	}
	if c.Session.ConnectTimeout <= 0 {
		return &ConfigError{Field: "session.connect_timeout", Reason: "must be positive"}
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return &ConfigError{Field: "server.mode", Reason: fmt.Sprintf("%q must be debug, release or test", c.Server.Mode)}
	}
	for _, t := range c.Bot.ScheduleTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return &ConfigError{Field: "bot.schedule_times", Reason: fmt.Sprintf("%q is not HH:MM", t)}
		}
	}
	return nil
}

// ValidateServer is the extra check for daemon mode, where the status API
// hands out pairing codes.
func (c *Config) ValidateServer() error {
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return &ConfigError{Field: "JWT_SECRET", Reason: fmt.Sprintf("too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))}
	}
	return nil
}
