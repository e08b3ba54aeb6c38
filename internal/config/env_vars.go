package config

import (
	"os"
	"strings"
	"time"
)

func (c mainConfig) GetAppName() string { return c.v.AppName }

func (c mainConfig) GetEnv() string {
	if c.v.Env == "" {
		return "DEV"
	}
	return c.v.Env
}

// GetAPIURL returns the backend root without a trailing slash.
func (c mainConfig) GetAPIURL() string {
	return strings.TrimRight(c.v.APIURL, "/")
}

func (c mainConfig) GetHTTPTimeout() time.Duration { return c.v.HTTPTimeout }

func (c mainConfig) GetCallbackAddr() string { return c.v.CallbackAddr }

func (c mainConfig) GetLogLevel() string { return c.v.LogLevel }

func (c mainConfig) GetStoreBackend() string { return c.v.Store.Backend }

// GetTokenFile is empty when the platform default location should be used.
func (c mainConfig) GetTokenFile() string { return c.v.Store.TokenFile }

func (c mainConfig) GetStorePassphrase() string { return c.v.Store.Passphrase }

func (c mainConfig) GetRedisURL() string { return c.v.Store.RedisURL }

func (c mainConfig) GetRedisPrefix() string { return c.v.Store.RedisPrefix }

func (c mainConfig) GetRedisTTL() time.Duration { return c.v.Store.RedisTTL }

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
