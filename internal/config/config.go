// Package config loads the process configuration (ports, paths, timers)
// through viper and the user's grouping settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TABGRUPPEN_SERVER_PORT.
const EnvPrefix = "TABGRUPPEN"

// DefaultPort is the WebSocket port the extension connects to.
const DefaultPort = 19192

// Config is the process configuration.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"log"`
	Settings struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"settings"`
	Engine struct {
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		CallTimeout   time.Duration `mapstructure:"call_timeout"`
	} `mapstructure:"engine"`
	Notify struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"notify"`
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// Dirs holds the default locations derived from the user's home.
type Dirs struct {
	Config string // ~/.config/tabgruppen
	Data   string // ~/.local/share/tabgruppen
}

// DefaultDirs returns the default config and data directories. It falls
// back to the working directory when no home directory is known.
func DefaultDirs() Dirs {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfgBase, err := os.UserConfigDir()
	if err != nil {
		cfgBase = filepath.Join(home, ".config")
	}
	return Dirs{
		Config: filepath.Join(cfgBase, "tabgruppen"),
		Data:   filepath.Join(home, ".local", "share", "tabgruppen"),
	}
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers may bind command-line flags to it before Load.
func New() *viper.Viper {
	d := DefaultDirs()
	v := viper.New()
	v.SetDefault("server.addr", "127.0.0.1")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("database.path", filepath.Join(d.Data, "tabgruppen.db"))
	v.SetDefault("log.dir", d.Data)
	v.SetDefault("settings.path", filepath.Join(d.Config, "settings.yaml"))
	v.SetDefault("engine.sweep_interval", 5*time.Minute)
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("notify.ttl", 30*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result. An
// empty cfgFile searches config.yaml in the default config directory and
// the working directory; a missing file there is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(expandTilde(cfgFile))
		v.SetConfigType("yaml")
	} else {
		v.AddConfigPath(DefaultDirs().Config)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Database.Path = expandTilde(c.Database.Path)
	c.Log.Dir = expandTilde(c.Log.Dir)
	c.Settings.Path = expandTilde(c.Settings.Path)

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return nil, fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.SweepInterval <= 0 {
		return nil, fmt.Errorf("engine.sweep_interval must be positive")
	}
	if c.Engine.CallTimeout <= 0 {
		return nil, fmt.Errorf("engine.call_timeout must be positive")
	}
	return &c, nil
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
