package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHistoryLimit    = 50
	defaultDBTimeout       = 5 * time.Second
	defaultRoomIdleTimeout = 30 * time.Second
	defaultDedupTTL        = 24 * time.Hour
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	Redis          RedisConfig
	Kafka          KafkaConfig
	Relay          RelayConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// KafkaConfig configures the consumer for post publication events. An empty
// broker list disables the consumer.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic" validate:"required_with=Brokers"`
	GroupId string   `mapstructure:"group_id" validate:"required_with=Brokers"`
}

type RelayConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit" validate:"gt=0,lte=200"`
	DBTimeout       time.Duration `mapstructure:"db_timeout" validate:"gt=0"`
	RoomIdleTimeout time.Duration `mapstructure:"room_idle_timeout" validate:"gt=0"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl" validate:"gt=0"`
}

type fileConfig struct {
	Addr           string      `mapstructure:"addr" validate:"required"`
	DSN            string      `mapstructure:"dsn" validate:"required"`
	SigningKey     string      `mapstructure:"signing_key" validate:"required,base64"`
	AllowedOrigins []string    `mapstructure:"allowed_origins"`
	Redis          RedisConfig `mapstructure:"redis"`
	Kafka          KafkaConfig `mapstructure:"kafka"`
	Relay          RelayConfig `mapstructure:"relay"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}

	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Relay: RelayConfig{
			HistoryLimit:    defaultHistoryLimit,
			DBTimeout:       defaultDBTimeout,
			RoomIdleTimeout: defaultRoomIdleTimeout,
			DedupTTL:        defaultDedupTTL,
		},
	}, nil
}

// Load builds the configuration from command line flags, GCLIP_* environment
// variables, an optional .env file and an optional config.yaml, in that order
// of precedence.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("gclip", pflag.ContinueOnError)
	flags.String("addr", v.GetString("addr"), "server address")
	flags.String("dsn", v.GetString("dsn"), "database connection string")
	flags.String("signing-key", "", "base64 encoded signing key")
	flags.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	flags.String("config", "", "path to a config.yaml file")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	for key, flag := range map[string]string{
		"addr":            "addr",
		"dsn":             "dsn",
		"signing_key":     "signing-key",
		"allowed_origins": "allowed-origins",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %q: %w", flag, err)
		}
	}

	v.SetEnvPrefix("gclip")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return fromFileConfig(fc)
}

func fromFileConfig(fc fileConfig) (*Config, error) {
	if err := validator.New().Struct(fc); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg, err := NewConfig(fc.Addr, fc.DSN, fc.SigningKey, fc.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	cfg.Redis = fc.Redis
	cfg.Kafka = fc.Kafka
	cfg.Relay = fc.Relay

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "localhost:8000")
	v.SetDefault("dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "post.published")
	v.SetDefault("kafka.group_id", "gclip-relay")
	v.SetDefault("relay.history_limit", defaultHistoryLimit)
	v.SetDefault("relay.db_timeout", defaultDBTimeout)
	v.SetDefault("relay.room_idle_timeout", defaultRoomIdleTimeout)
	v.SetDefault("relay.dedup_ttl", defaultDedupTTL)
}
