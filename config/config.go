package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		Path     string `mapstructure:"path"`
	} `mapstructure:"database"`
	Redis RedisConfig `mapstructure:"redis"`
	Vault struct {
		KeyFile    string `mapstructure:"key_file"`
		CipherMode string `mapstructure:"cipher_mode"`
		Entropy    string `mapstructure:"entropy"`
	} `mapstructure:"vault"`
	Audit struct {
		Sink                 string  `mapstructure:"sink"`
		FilePath             string  `mapstructure:"file_path"`
		MaterialityThreshold float64 `mapstructure:"materiality_threshold"`
		FailClosed           bool    `mapstructure:"fail_closed"`
	} `mapstructure:"audit"`
	Auth struct {
		OperatorGroup string        `mapstructure:"operator_group"`
		AdminGroup    string        `mapstructure:"admin_group"`
		ApprovalTTL   time.Duration `mapstructure:"approval_ttl"`
		MaxAttempts   int           `mapstructure:"max_attempts"`
	} `mapstructure:"auth"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// RedisConfig locates the stream used by the redis audit sink.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

// Addr is the host:port the client dials.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.path", "ledger.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "ledger:audit")

	v.SetDefault("vault.key_file", "secure_key.bin")
	v.SetDefault("vault.cipher_mode", "aes-256-gcm")

	v.SetDefault("audit.sink", "file")
	v.SetDefault("audit.file_path", "audit.log")
	v.SetDefault("audit.materiality_threshold", 10000.0)
	v.SetDefault("audit.fail_closed", false)

	v.SetDefault("auth.operator_group", "Bank Teller")
	v.SetDefault("auth.admin_group", "Bank Teller Administrator")
	v.SetDefault("auth.approval_ttl", 2*time.Minute)
	v.SetDefault("auth.max_attempts", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yml from path (when present), applies LEDGER_*
// environment overrides and stores the result in AppConfig.
func LoadConfig(path string) error {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

// Validate rejects configurations the application cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Audit.Sink {
	case "file", "redis", "database":
	default:
		return fmt.Errorf("unsupported audit sink %q", c.Audit.Sink)
	}
	if c.Audit.MaterialityThreshold < 0 {
		return errors.New("audit.materiality_threshold must not be negative")
	}
	if c.Auth.OperatorGroup == "" || c.Auth.AdminGroup == "" {
		return errors.New("auth.operator_group and auth.admin_group are required")
	}
	if c.Auth.MaxAttempts < 1 {
		return errors.New("auth.max_attempts must be at least 1")
	}
	return nil
}
