// Package config loads monostream settings from a YAML file, MONOSTREAM_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/transport"
)

// EnvPrefix prefixes every environment override, e.g. MONOSTREAM_STREAM_FPS.
const EnvPrefix = "MONOSTREAM"

type Config struct {
	Display   DisplayConfig   `mapstructure:"display"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Transport TransportConfig `mapstructure:"transport"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type DisplayConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type StreamConfig struct {
	FPS           float64 `mapstructure:"fps"`
	Dither        string  `mapstructure:"dither"`
	Threshold     float64 `mapstructure:"threshold"`
	LineDirection string  `mapstructure:"line_direction"`
	Loop          bool    `mapstructure:"loop"`
	SkipFrames    bool    `mapstructure:"skip_frames"`
}

type TransportConfig struct {
	Port       string        `mapstructure:"port"`
	BaudRate   int           `mapstructure:"baud_rate"`
	ResetDelay time.Duration `mapstructure:"reset_delay"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("display.width", 128)
	v.SetDefault("display.height", 64)

	v.SetDefault("stream.fps", 15)
	v.SetDefault("stream.dither", string(dither.Default))
	v.SetDefault("stream.threshold", 50)
	v.SetDefault("stream.line_direction", string(dither.Vertical))
	v.SetDefault("stream.loop", false)
	v.SetDefault("stream.skip_frames", true)

	v.SetDefault("transport.port", "")
	v.SetDefault("transport.baud_rate", transport.DefaultBaudRate)
	v.SetDefault("transport.reset_delay", transport.DefaultResetDelay)
	v.SetDefault("transport.ack_timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.debug", false)

	v.SetDefault("metrics.listen", "")
}

// New returns a viper instance with defaults and environment overrides set
// up. Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, or monostream.yaml from the working directory or
// $HOME/.monostream when file is empty, and returns the validated settings.
// A missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("monostream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.monostream")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromReader reads YAML settings from r on top of the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	v := New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func Validate(cfg *Config) error {
	var errs []error

	// Display
	if cfg.Display.Width < 1 || cfg.Display.Width > 1024 {
		errs = append(errs, fmt.Errorf("display.width %d is out of range [1, 1024]", cfg.Display.Width))
	}
	if cfg.Display.Height < 8 || cfg.Display.Height > 1024 {
		errs = append(errs, fmt.Errorf("display.height %d is out of range [8, 1024]", cfg.Display.Height))
	}

	// Stream
	if cfg.Stream.FPS <= 0 {
		errs = append(errs, fmt.Errorf("stream.fps %g must be positive", cfg.Stream.FPS))
	}
	if cfg.Stream.Threshold < 0 || cfg.Stream.Threshold > 100 {
		errs = append(errs, fmt.Errorf("stream.threshold %g is out of range [0, 100]", cfg.Stream.Threshold))
	}
	if !dither.Direction(cfg.Stream.LineDirection).IsValid() {
		errs = append(errs, fmt.Errorf("stream.line_direction %q is invalid; valid values: vertical, horizontal", cfg.Stream.LineDirection))
	}

	// Transport
	if cfg.Transport.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("transport.baud_rate %d must be positive", cfg.Transport.BaudRate))
	}
	if cfg.Transport.AckTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.ack_timeout %v must not be negative", cfg.Transport.AckTimeout))
	}

	// Log
	if _, ok := levels[strings.ToLower(cfg.Log.Level)]; !ok && cfg.Log.Level != "" {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: trace, debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}

// DitherParams returns the dithering inputs derived from the stream settings.
func (c *Config) DitherParams() dither.Params {
	return dither.Params{
		Threshold: c.Stream.Threshold,
		Direction: dither.Direction(c.Stream.LineDirection),
	}
}

// TransportConfig returns the link parameters. A zero reset delay disables
// the wait.
func (c *Config) TransportConfig() transport.Config {
	resetDelay := c.Transport.ResetDelay
	if resetDelay == 0 {
		resetDelay = -1
	}
	return transport.Config{
		Port:       c.Transport.Port,
		BaudRate:   c.Transport.BaudRate,
		ResetDelay: resetDelay,
	}
}

var levels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// ZerologLevel returns the configured level. Debug forces debug.
func (c *LogConfig) ZerologLevel() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	if level, ok := levels[strings.ToLower(c.Level)]; ok {
		return level
	}
	return zerolog.InfoLevel
}

// ConfigureZerolog configures zerolog based on the log configuration
func (c *LogConfig) ConfigureZerolog() {
	zerolog.SetGlobalLevel(c.ZerologLevel())
}
