package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"` // Empty uses the embedded migrations
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// SMTPConfig holds outgoing mail configuration
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	PromptsPath string        `mapstructure:"prompts_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AutoScore   bool          `mapstructure:"auto_score"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
	BaseURL   string `mapstructure:"base_url"`
}

// WorkflowConfig holds follow-up retry settings
type WorkflowConfig struct {
	ResumeInterval time.Duration `mapstructure:"resume_interval"`
	ResumeBatch    int           `mapstructure:"resume_batch"`
	AsyncTimeout   time.Duration `mapstructure:"async_timeout"`
	ClaimLease     time.Duration `mapstructure:"claim_lease"`
	ResumeGrace    time.Duration `mapstructure:"resume_grace"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads an optional .env file, then the config file, then environment variables.
// An empty configPath skips the file.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFiles applies each existing file without overriding variables already set
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := gotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/crm.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("auth.issuer", "crm-workflow")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.timeout", 10*time.Second)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.auto_score", true)

	v.SetDefault("workflow.resume_interval", time.Minute)
	v.SetDefault("workflow.resume_batch", 20)
	v.SetDefault("workflow.async_timeout", 2*time.Minute)
	v.SetDefault("workflow.claim_lease", 5*time.Minute)
	v.SetDefault("workflow.resume_grace", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars maps SECTION_KEY variables onto every key and binds the
// conventional names of sensitive credentials.
func bindEnvVars(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lark.chat_id", "LARK_CHAT_ID")
	_ = v.BindEnv("smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("smtp.password", "SMTP_PASSWORD")
}

// Validate validates the configuration. Optional integrations only need to be
// consistent when partially configured.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Auth),
		validation.Field(&c.Server),
		validation.Field(&c.Database),
		validation.Field(&c.Workflow),
		validation.Field(&c.Logger),
		validation.Field(&c.SMTP),
	)
	if err != nil {
		return err
	}
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return validation.Errors{"lark": validation.NewError("config.lark.credentials", "app_id and app_secret must be set together")}
	}
	return nil
}

// Validate implements validation.Validatable
func (a AuthConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.JWTSecret, validation.Required, validation.Length(16, 0)),
	)
}

// Validate implements validation.Validatable
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// Validate implements validation.Validatable
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Path, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(1)),
	)
}

// Validate implements validation.Validatable
func (w WorkflowConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.ResumeInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&w.ResumeBatch, validation.Required, validation.Min(1)),
		validation.Field(&w.ClaimLease, validation.Min(time.Second)),
		validation.Field(&w.ResumeGrace, validation.Min(time.Duration(0))),
	)
}

// Validate implements validation.Validatable
func (l LoggerConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}

// Validate implements validation.Validatable
func (s SMTPConfig) Validate() error {
	if s.Host == "" {
		return nil
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.From, validation.Required),
		validation.Field(&s.Port, validation.Min(1), validation.Max(65535)),
	)
}
