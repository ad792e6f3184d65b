package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration. It doubles as the host info
// consumed by the forward module: the local ports and TLS flag here are
// what get published through the gateway.
type Config struct {
	Host      string `mapstructure:"host"`
	HTTPPort  int    `mapstructure:"http_port"`
	HTTPSPort int    `mapstructure:"https_port"`
	AppName   string `mapstructure:"app_name"`
	DataDir   string `mapstructure:"data_dir"`

	TLS TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds the HTTPS listener configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Addr returns the HTTP listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// TLSAddr returns the HTTPS listen address as host:port.
func (c *Config) TLSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPSPort)
}

// LocalHTTPPort returns the port the HTTP listener binds.
func (c *Config) LocalHTTPPort() int { return c.HTTPPort }

// LocalHTTPSPort returns the port the HTTPS listener binds.
func (c *Config) LocalHTTPSPort() int { return c.HTTPSPort }

// ListenTLS reports whether the HTTPS listener is enabled.
func (c *Config) ListenTLS() bool { return c.TLS.Enabled }

// Name returns the application name used in gateway mapping descriptions.
func (c *Config) Name() string { return c.AppName }

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8096)
	v.SetDefault("server.https_port", 8920)
	v.SetDefault("server.app_name", "Portward")
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/portward.db")
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	// Plugin defaults
	v.SetDefault("plugins.settings.enabled", true)
	v.SetDefault("plugins.forward.enabled", true)
	v.SetDefault("plugins.forward.clear_interval", "10m")
	v.SetDefault("plugins.forward.upnp_search_interval", "5m")
	v.SetDefault("plugins.forward.mapping_timeout", "10s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("portward")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/portward")
	}

	// Environment variable support: PW_SERVER_HTTP_PORT=9096
	v.SetEnvPrefix("PW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
