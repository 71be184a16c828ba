// Package config handles configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LIVECAP_CAPTURE_OUTPUT_DIR.
const EnvPrefix = "LIVECAP"

// Config is the complete livecap configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServerConfig controls the HTTP and WebSocket listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// AllowedOrigins limits WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// MaxConnections caps concurrently open connections; 0 = unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`
}

// CaptureConfig controls the capture tool and sessions.
type CaptureConfig struct {
	Tool             string        `mapstructure:"tool" yaml:"tool"`
	OutputDir        string        `mapstructure:"output_dir" yaml:"output_dir"`
	FileFormat       string        `mapstructure:"file_format" yaml:"file_format"`
	OutputMode       string        `mapstructure:"output_mode" yaml:"output_mode"`
	TerminateTimeout time.Duration `mapstructure:"terminate_timeout" yaml:"terminate_timeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout" yaml:"discovery_timeout"`
	MaxPackets       int           `mapstructure:"max_packets" yaml:"max_packets"` // 0 = unbounded
	ReadBuffer       int           `mapstructure:"read_buffer" yaml:"read_buffer"`
	QueueSize        int           `mapstructure:"queue_size" yaml:"queue_size"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string        `mapstructure:"level" yaml:"level"`
	Format string        `mapstructure:"format" yaml:"format"` // text | json
	File   LogFileConfig `mapstructure:"file" yaml:"file"`
}

// LogFileConfig enables a rotating log file next to stdout.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Load reads configuration from path, if given, on top of the defaults.
// Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":3000")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_connections", 0)

	v.SetDefault("capture.tool", "tshark")
	v.SetDefault("capture.output_dir", "captures")
	v.SetDefault("capture.file_format", "pcap")
	v.SetDefault("capture.output_mode", "json")
	v.SetDefault("capture.terminate_timeout", "5s")
	v.SetDefault("capture.discovery_timeout", "10s")
	v.SetDefault("capture.max_packets", 0)
	v.SetDefault("capture.read_buffer", 32<<10)
	v.SetDefault("capture.queue_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "livecap.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("server.max_connections must not be negative, got %d", c.Server.MaxConnections))
	}

	cc := c.Capture
	if strings.TrimSpace(cc.Tool) == "" {
		errs = append(errs, errors.New("capture.tool must not be empty"))
	}
	if strings.TrimSpace(cc.FileFormat) == "" {
		errs = append(errs, errors.New("capture.file_format must not be empty"))
	}
	if cc.TerminateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.terminate_timeout must be positive, got %s", cc.TerminateTimeout))
	}
	if cc.DiscoveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.discovery_timeout must be positive, got %s", cc.DiscoveryTimeout))
	}
	if cc.MaxPackets < 0 {
		errs = append(errs, fmt.Errorf("capture.max_packets must not be negative, got %d", cc.MaxPackets))
	}
	if cc.ReadBuffer <= 0 {
		errs = append(errs, fmt.Errorf("capture.read_buffer must be positive, got %d", cc.ReadBuffer))
	}
	if cc.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size must not be negative, got %d", cc.QueueSize))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Log.File.Enabled && strings.TrimSpace(c.Log.File.Path) == "" {
		errs = append(errs, errors.New("log.file.path must be set when log.file.enabled"))
	}
	return errors.Join(errs...)
}
