package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the client configuration.
type Config struct {
	// ServerURL is the http(s) origin of the room server. The signaling
	// endpoint is derived from it with the scheme upgraded to ws(s).
	ServerURL   string `mapstructure:"server_url"`
	RoomCode    string `mapstructure:"room_code"`
	DisplayName string `mapstructure:"display_name"`

	LogLevel string `mapstructure:"log_level"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`

	// STUN servers for ICE, comma separated.
	STUNServers []string `mapstructure:"stun_servers"`
}

// Load reads a .env file (if present) and environment variables prefixed with
// ROOMCALL_. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("roomcall")
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://localhost:8000")
	v.SetDefault("display_name", "")
	v.SetDefault("room_code", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("connect_timeout", "15s")
	v.SetDefault("reconnect_delay", "2s")
	v.SetDefault("ping_interval", "30s")
	v.SetDefault("stun_servers", "stun:stun.l.google.com:19302")

	// AutomaticEnv alone does not surface env-only keys through Unmarshal,
	// so bind each key explicitly.
	for _, key := range []string{
		"server_url", "room_code", "display_name", "log_level",
		"connect_timeout", "reconnect_delay", "ping_interval", "stun_servers",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.STUNServers) == 1 && strings.Contains(cfg.STUNServers[0], ",") {
		cfg.STUNServers = strings.Split(cfg.STUNServers[0], ",")
	}

	if cfg.RoomCode == "" {
		return nil, fmt.Errorf("ROOMCALL_ROOM_CODE is required")
	}
	if cfg.DisplayName == "" {
		return nil, fmt.Errorf("ROOMCALL_DISPLAY_NAME is required")
	}

	return &cfg, nil
}
