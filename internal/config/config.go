package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string       `mapstructure:"mode"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	UDP    UDPConfig    `mapstructure:"udp"`
	Pool   PoolConfig   `mapstructure:"pool"`
	Engine EngineConfig `mapstructure:"engine"`
	Signal SignalConfig `mapstructure:"signal"`
	Log    LogConfig    `mapstructure:"log"`
}

type HTTPConfig struct {
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
}

type UDPConfig struct {
	// Host is left empty to pick the first routable IPv4 address.
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	ReadBuffer int    `mapstructure:"read_buffer"`
}

type PoolConfig struct {
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	IdleThreshold       time.Duration `mapstructure:"idle_threshold"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	MaxRecoveryAttempts int           `mapstructure:"max_recovery_attempts"`
	InactiveLogAfter    time.Duration `mapstructure:"inactive_log_after"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	MinReadTimeout      time.Duration `mapstructure:"min_read_timeout"`
	KeyframeInterval    time.Duration `mapstructure:"keyframe_interval"`
	HighLayer           string        `mapstructure:"high_layer"`
	PruneInterval       time.Duration `mapstructure:"prune_interval"`
	MaxPollsPerSession  int           `mapstructure:"max_polls_per_session"`
}

type EngineConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	OutputQueue   int           `mapstructure:"output_queue"`
	InboxSize     int           `mapstructure:"inbox_size"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
}

type SignalConfig struct {
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")

	v.SetDefault("http.port", 3000)
	v.SetDefault("http.static_path", "./web")
	v.SetDefault("http.secret", "relay-secret")

	v.SetDefault("udp.host", "")
	v.SetDefault("udp.port", 0)
	v.SetDefault("udp.read_buffer", 2000)

	v.SetDefault("pool.health_interval", "5s")
	v.SetDefault("pool.idle_threshold", "10s")
	v.SetDefault("pool.failure_threshold", 3)
	v.SetDefault("pool.max_recovery_attempts", 3)
	v.SetDefault("pool.inactive_log_after", "5s")
	v.SetDefault("pool.default_timeout", "100ms")
	v.SetDefault("pool.min_read_timeout", "1ms")
	v.SetDefault("pool.keyframe_interval", "1s")
	v.SetDefault("pool.high_layer", "h")
	v.SetDefault("pool.prune_interval", "5s")
	v.SetDefault("pool.max_polls_per_session", 1024)

	v.SetDefault("engine.poll_interval", "5ms")
	v.SetDefault("engine.output_queue", 1024)
	v.SetDefault("engine.inbox_size", 1024)
	v.SetDefault("engine.gather_timeout", "5s")

	v.SetDefault("signal.read_limit", 65536)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.messages_per_second", 20)
	v.SetDefault("signal.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// New returns a viper instance with defaults and RELAY_ env overrides. The
// cli binds its flags into it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and returns the
// validated result. An empty path uses defaults, env and flags only.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	atLeast := func(name string, n, floor int) {
		if n < floor {
			errs = append(errs, fmt.Errorf("%s must be >= %d, got %d", name, floor, n))
		}
	}

	if c.Mode != "release" && c.Mode != "debug" && c.Mode != "test" {
		errs = append(errs, fmt.Errorf("mode must be release, debug or test, got %q", c.Mode))
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if c.UDP.Port < 0 || c.UDP.Port > 65535 {
		errs = append(errs, fmt.Errorf("udp.port out of range: %d", c.UDP.Port))
	}
	atLeast("udp.read_buffer", c.UDP.ReadBuffer, 1)

	positive("pool.health_interval", c.Pool.HealthInterval)
	positive("pool.idle_threshold", c.Pool.IdleThreshold)
	positive("pool.inactive_log_after", c.Pool.InactiveLogAfter)
	positive("pool.default_timeout", c.Pool.DefaultTimeout)
	positive("pool.min_read_timeout", c.Pool.MinReadTimeout)
	positive("pool.keyframe_interval", c.Pool.KeyframeInterval)
	positive("pool.prune_interval", c.Pool.PruneInterval)
	atLeast("pool.failure_threshold", c.Pool.FailureThreshold, 0)
	atLeast("pool.max_recovery_attempts", c.Pool.MaxRecoveryAttempts, 0)
	atLeast("pool.max_polls_per_session", c.Pool.MaxPollsPerSession, 1)
	if strings.TrimSpace(c.Pool.HighLayer) == "" {
		errs = append(errs, errors.New("pool.high_layer must not be empty"))
	}

	positive("engine.poll_interval", c.Engine.PollInterval)
	positive("engine.gather_timeout", c.Engine.GatherTimeout)
	atLeast("engine.output_queue", c.Engine.OutputQueue, 1)
	atLeast("engine.inbox_size", c.Engine.InboxSize, 1)

	if c.Signal.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("signal.read_limit must be positive, got %d", c.Signal.ReadLimit))
	}
	positive("signal.ping_period", c.Signal.PingPeriod)
	if c.Signal.MessagesPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("signal.messages_per_second must be positive, got %v", c.Signal.MessagesPerSecond))
	}
	atLeast("signal.burst", c.Signal.Burst, 1)

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level unknown: %q", c.Log.Level))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
