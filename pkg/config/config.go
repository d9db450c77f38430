// Package config loads client and server configuration via viper, so a
// deployment can mix a config file and environment variables (WIFIKEY_
// prefix) without the caller juggling precedence itself.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig is everything a client node needs to rendezvous with a
// server, authenticate a session and run the C4 sampler.
type ClientConfig struct {
	ServerName string `mapstructure:"server_name"`
	Passphrase string `mapstructure:"passphrase"`

	STUNServer string `mapstructure:"stun_server"`
	BrokerAddr string `mapstructure:"broker_addr"`

	PaddleDevice string `mapstructure:"paddle_device"`
	ATUButtonPin int    `mapstructure:"atu_button_pin"`

	DiagListenAddr string `mapstructure:"diag_listen_addr"`
	LogLevel       string `mapstructure:"log_level"`

	RendezvousTimeout time.Duration `mapstructure:"rendezvous_timeout"`
}

// ServerConfig is everything a server node needs to accept a rendezvous,
// authenticate a session and run the C5 keyer against its local line.
type ServerConfig struct {
	ServerName string `mapstructure:"server_name"`
	Passphrase string `mapstructure:"passphrase"`

	STUNServer string `mapstructure:"stun_server"`
	BrokerAddr string `mapstructure:"broker_addr"`

	LineDevice string `mapstructure:"line_device"`
	ATUPin     int    `mapstructure:"atu_pin"`

	DiagListenAddr string `mapstructure:"diag_listen_addr"`
	LogLevel       string `mapstructure:"log_level"`

	EventLogPath string `mapstructure:"event_log_path"`
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("WIFIKEY")
	v.AutomaticEnv()
	return v
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("stun_server", "stun.l.google.com:19302")
	v.SetDefault("broker_addr", "127.0.0.1:8422")
	v.SetDefault("atu_button_pin", -1)
	v.SetDefault("diag_listen_addr", "127.0.0.1:8420")
	v.SetDefault("log_level", "info")
	v.SetDefault("rendezvous_timeout", 30*time.Second)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("stun_server", "stun.l.google.com:19302")
	v.SetDefault("broker_addr", "127.0.0.1:8422")
	v.SetDefault("atu_pin", -1)
	v.SetDefault("diag_listen_addr", "127.0.0.1:8421")
	v.SetDefault("log_level", "info")
	v.SetDefault("event_log_path", "wifikey-events.db")
}

// LoadClientConfig reads a client configuration file (any format viper
// supports: YAML, JSON, TOML) and applies environment overrides.
func LoadClientConfig(path string) (*ClientConfig, error) {
	v := newViper(path)
	setClientDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading client config: %w", err)
	}
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding client config: %w", err)
	}
	if cfg.ServerName == "" {
		return nil, fmt.Errorf("config: server_name is required")
	}
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("config: passphrase is required")
	}
	if cfg.BrokerAddr == "" {
		return nil, fmt.Errorf("config: broker_addr is required")
	}
	return &cfg, nil
}

// LoadServerConfig reads a server configuration file and applies
// environment overrides.
func LoadServerConfig(path string) (*ServerConfig, error) {
	v := newViper(path)
	setServerDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading server config: %w", err)
	}
	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding server config: %w", err)
	}
	if cfg.ServerName == "" {
		return nil, fmt.Errorf("config: server_name is required")
	}
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("config: passphrase is required")
	}
	if cfg.BrokerAddr == "" {
		return nil, fmt.Errorf("config: broker_addr is required")
	}
	return &cfg, nil
}
