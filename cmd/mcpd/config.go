package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the daemon's merged configuration: flags, environment
// variables (prefixed MCPD_) and an optional config file, in that order
// of precedence via viper.
type Config struct {
	Transport string // "http", "stdio" or "both"
	HTTPAddr  string

	Store  string // "memory" or "redis"
	Broker string // "memory" or "redis"
	Lock   string // "memory" or "redis"

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	HistoryCap    int

	SessionIdleTTL      time.Duration
	SessionMaxLifetime  time.Duration
	SessionCleanupEvery time.Duration

	Auth                 string // "none", "jwks" or "introspection"
	JWKSURI              string
	Issuer               string
	Audience             string
	CheckAudience        bool
	IntrospectionURL     string
	IntrospectionAuth    string
	ClientID             string
	ClientSecret         string
	ResourceMetadataURL  string
	TokenURL             string

	TasksEnabled bool

	LogLevel string
}

// bindFlags registers the daemon's flags on cmd and binds each to a viper
// key so environment variables and a config file can override defaults
// without duplicating the flag list.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	flags.String("config", "", "Optional path to a YAML/JSON/TOML config file.")
	flags.String("transport", "http", "Transport(s) to serve: http, stdio or both.")
	flags.String("http-addr", ":8080", "Address the HTTP transport listens on.")

	flags.String("store", "memory", "Session store backend: memory or redis.")
	flags.String("broker", "memory", "Notification broker backend: memory or redis.")
	flags.String("lock", "memory", "Distributed lock backend: memory or redis.")

	flags.String("redis-addr", "localhost:6379", "Redis address, when store/broker/lock is redis.")
	flags.String("redis-password", "", "Redis password.")
	flags.Int("redis-db", 0, "Redis logical database.")
	flags.String("key-prefix", "mcpd", "Key prefix for Redis-backed state.")
	flags.Int("history-cap", 100, "Maximum messages retained per session history.")

	flags.Duration("session-idle-ttl", time.Hour, "Idle duration after which a detached session is eligible for cleanup.")
	flags.Duration("session-max-lifetime", 24*time.Hour, "Hard cap on a session's lifetime regardless of activity.")
	flags.Duration("session-cleanup-every", time.Minute, "How often the lifecycle sweeper runs.")

	flags.String("auth", "none", "Bearer token validation: none, jwks or introspection.")
	flags.String("jwks-uri", "", "JWKS endpoint URI, when auth=jwks.")
	flags.String("issuer", "", "Expected token issuer.")
	flags.String("audience", "", "Expected token audience.")
	flags.Bool("check-audience", false, "Reject tokens whose audience doesn't match --audience.")
	flags.String("introspection-url", "", "RFC 7662 introspection endpoint, when auth=introspection.")
	flags.String("introspection-auth", "none", "Introspection client auth: none, bearer or basic.")
	flags.String("client-id", "", "OAuth client id used for introspection or DCR proxying.")
	flags.String("client-secret", "", "OAuth client secret used for introspection.")
	flags.String("resource-metadata-url", "", "URL advertised in the WWW-Authenticate challenge and protected-resource metadata.")
	flags.String("token-url", "", "OAuth token endpoint used to refresh a session's bearer token before it expires. Refresh is disabled when empty.")

	flags.Bool("tasks", true, "Enable the tasks/* method family.")

	flags.String("log-level", "info", "Minimum RFC 5424 severity logged: debug, info, notice, warning, error, critical, alert, emergency.")

	return v.BindPFlags(flags)
}

func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("mcpd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if v.GetString("config") != "" {
		v.SetConfigFile(v.GetString("config"))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		Transport:           v.GetString("transport"),
		HTTPAddr:            v.GetString("http-addr"),
		Store:               v.GetString("store"),
		Broker:              v.GetString("broker"),
		Lock:                v.GetString("lock"),
		RedisAddr:           v.GetString("redis-addr"),
		RedisPassword:       v.GetString("redis-password"),
		RedisDB:             v.GetInt("redis-db"),
		KeyPrefix:           v.GetString("key-prefix"),
		HistoryCap:          v.GetInt("history-cap"),
		SessionIdleTTL:      v.GetDuration("session-idle-ttl"),
		SessionMaxLifetime:  v.GetDuration("session-max-lifetime"),
		SessionCleanupEvery: v.GetDuration("session-cleanup-every"),
		Auth:                v.GetString("auth"),
		JWKSURI:             v.GetString("jwks-uri"),
		Issuer:              v.GetString("issuer"),
		Audience:            v.GetString("audience"),
		CheckAudience:       v.GetBool("check-audience"),
		IntrospectionURL:    v.GetString("introspection-url"),
		IntrospectionAuth:   v.GetString("introspection-auth"),
		ClientID:            v.GetString("client-id"),
		ClientSecret:        v.GetString("client-secret"),
		ResourceMetadataURL: v.GetString("resource-metadata-url"),
		TokenURL:            v.GetString("token-url"),
		TasksEnabled:        v.GetBool("tasks"),
		LogLevel:            v.GetString("log-level"),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Transport {
	case "http", "stdio", "both":
	default:
		return fmt.Errorf("config: invalid transport %q", c.Transport)
	}
	for _, backend := range []string{c.Store, c.Broker, c.Lock} {
		if backend != "memory" && backend != "redis" {
			return fmt.Errorf("config: invalid backend %q, want memory or redis", backend)
		}
	}
	switch c.Auth {
	case "none", "jwks", "introspection":
	default:
		return fmt.Errorf("config: invalid auth %q", c.Auth)
	}
	if c.Auth == "jwks" && c.JWKSURI == "" {
		return fmt.Errorf("config: --jwks-uri is required when auth=jwks")
	}
	if c.Auth == "introspection" && c.IntrospectionURL == "" {
		return fmt.Errorf("config: --introspection-url is required when auth=introspection")
	}
	return nil
}
