package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	configPathEnvVar  = "CONFIG_PATH"
	defaultConfigFile = "imhotep.yaml"

	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config interface {
	ClientConfig
	StoreConfig
	LogConfig
}

type ClientConfig interface {
	GetAppName() string
	GetEnv() string
	GetAPIURL() string
	GetHTTPTimeout() time.Duration
	GetCallbackAddr() string
}

type StoreConfig interface {
	GetStoreBackend() string
	GetTokenFile() string
	GetStorePassphrase() string
	GetRedisURL() string
	GetRedisPrefix() string
	GetRedisTTL() time.Duration
}

type LogConfig interface {
	GetLogLevel() string
}

// Values is the file/env shape. Environment variables override the file.
type Values struct {
	AppName      string        `yaml:"app_name" env:"APP_NAME" env-default:"Imhotep"`
	Env          string        `yaml:"env" env:"ENV" env-default:"DEV"`
	APIURL       string        `yaml:"api_url" env:"API_URL" env-default:"http://localhost:8000"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT" env-default:"30s"`
	CallbackAddr string        `yaml:"callback_addr" env:"CALLBACK_ADDR" env-default:"127.0.0.1:8765"`
	LogLevel     string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Store        StoreValues   `yaml:"store"`
}

type StoreValues struct {
	Backend     string        `yaml:"backend" env:"STORE_BACKEND" env-default:"file"`
	TokenFile   string        `yaml:"token_file" env:"TOKEN_FILE"`
	Passphrase  string        `yaml:"passphrase" env:"STORE_PASSPHRASE"`
	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	RedisPrefix string        `yaml:"redis_prefix" env:"REDIS_PREFIX" env-default:"imhotep:session:"`
	RedisTTL    time.Duration `yaml:"redis_ttl" env:"REDIS_TTL" env-default:"0s"`
}

type mainConfig struct {
	v Values
}

var _ Config = mainConfig{}

// Load reads configuration from, in order of preference: path, the file in
// CONFIG_PATH, ./imhotep.yaml, and finally the environment alone.
func Load(path string) (Config, error) {
	var v Values

	if path == "" {
		path = GetEnv(configPathEnvVar, "")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("[config Load] config file %q: %w", path, err)
		}
		// ReadConfig applies the env overlay after parsing the file.
		if err := cleanenv.ReadConfig(path, &v); err != nil {
			return nil, fmt.Errorf("[config Load] read %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&v); err != nil {
		return nil, fmt.Errorf("[config Load] read env: %w", err)
	}

	if err := v.validate(); err != nil {
		return nil, err
	}
	return mainConfig{v: v}, nil
}

// FromValues wraps already populated values, used by tests and embedders.
func FromValues(v Values) (Config, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	return mainConfig{v: v}, nil
}

func (v Values) validate() error {
	switch v.Store.Backend {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("[config] unknown store backend %q, want %s, %s or %s", v.Store.Backend, StoreFile, StoreRedis, StoreMemory)
	}
	if v.APIURL == "" {
		return fmt.Errorf("[config] API_URL must not be empty")
	}
	if v.HTTPTimeout <= 0 {
		return fmt.Errorf("[config] HTTP_TIMEOUT must be positive, got %s", v.HTTPTimeout)
	}
	return nil
}
