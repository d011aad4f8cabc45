// Package config provides configuration management for chancore using Viper.
// It supports configuration from files, environment variables, and defaults,
// plus the channel catalog loader (see catalog.go).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values for the control-plane daemon.
const (
	defaultServerHost        = "0.0.0.0"
	defaultServerPort        = 8001
	defaultShutdownTimeout   = 15 * time.Second
	defaultStateDir          = "/var/lib/chancore/running"
	defaultHandoffDir        = "/tmp/chancore"
	defaultDiagnosticsDir    = "/var/lib/chancore/dot"
	defaultLogDir            = "/var/log/chancore"
	defaultRedisAddr         = "localhost:6379"
	defaultRedisDB           = 0
	defaultCheckInterval     = 5 * time.Second
	defaultMinBackoff        = 5 * time.Second
	defaultMaxBackoff        = 30 * time.Second
	defaultMaxFailureCount   = 5
	defaultProcessStartWait  = 10 * time.Second
	defaultHandoffPollEvery  = 5 * time.Second
	defaultHandoffWaitBound  = 2 * time.Minute
	defaultStopGraceful      = 10 * time.Second
	defaultStopTerminate     = 5 * time.Second
	defaultLiveWindow        = 300 * time.Second
	defaultHistoricRetention = 3 * time.Hour
	defaultSystemRetention   = 24 * time.Hour
	defaultAggregationPeriod = 300 * time.Second
	defaultMetricsSampleRate = 5 * time.Second
	defaultReachabilitySweep = "0 */2 * * * *" // every 2 minutes, 6-field cron
	defaultRoleBin           = "chanrole"
)

// Config holds all configuration for the chancore control-plane daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	ChannelFile string            `mapstructure:"channel_file"`
}

// ServerConfig holds the Control/Supervisor API HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds filesystem locations honored per spec §6's
// "Environment" section (state dir, handoff dir, diagnostics dir).
type StorageConfig struct {
	StateDir       string `mapstructure:"state_dir"`
	HandoffDir     string `mapstructure:"handoff_dir"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir"`
	LogDir         string `mapstructure:"log_dir"`
	WebRoot        string `mapstructure:"web_root"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RedisConfig holds the metrics/stats store's Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupervisorConfig holds the Health & Failover Supervisor's tunables, named
// directly after the constants in channel_monitor.py.
type SupervisorConfig struct {
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	MinBackoff        time.Duration `mapstructure:"min_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MaxFailureCount   int           `mapstructure:"max_failure_count"`
	ProcessStartWait  time.Duration `mapstructure:"process_start_wait"`
	HandoffPollEvery  time.Duration `mapstructure:"handoff_poll_every"`
	HandoffWaitBound  time.Duration `mapstructure:"handoff_wait_bound"`
	StopGraceful      time.Duration `mapstructure:"stop_graceful"`
	StopTerminate     time.Duration `mapstructure:"stop_terminate"`
	ReachabilitySweep string        `mapstructure:"reachability_sweep_cron"`
	// RoleBin is the chanrole executable the Lifecycle Manager execs one
	// instance of per role; resolved via PATH if not an absolute path.
	RoleBin string `mapstructure:"role_bin"`
}

// MetricsConfig holds the Metrics Collector's tunables.
type MetricsConfig struct {
	SampleRate        time.Duration `mapstructure:"sample_rate"`
	LiveWindow        time.Duration `mapstructure:"live_window"`
	HistoricRetention time.Duration `mapstructure:"historic_retention"`
	SystemRetention   time.Duration `mapstructure:"system_retention"`
	AggregationPeriod time.Duration `mapstructure:"aggregation_period"`
}

// Load builds a Config from defaults, an optional config file, and
// environment variables prefixed CHANCORE_.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHANCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("storage.state_dir", defaultStateDir)
	v.SetDefault("storage.handoff_dir", defaultHandoffDir)
	v.SetDefault("storage.diagnostics_dir", defaultDiagnosticsDir)
	v.SetDefault("storage.log_dir", defaultLogDir)
	v.SetDefault("storage.web_root", defaultHandoffDir+"/web")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.addr", defaultRedisAddr)
	v.SetDefault("redis.db", defaultRedisDB)

	v.SetDefault("supervisor.check_interval", defaultCheckInterval)
	v.SetDefault("supervisor.min_backoff", defaultMinBackoff)
	v.SetDefault("supervisor.max_backoff", defaultMaxBackoff)
	v.SetDefault("supervisor.max_failure_count", defaultMaxFailureCount)
	v.SetDefault("supervisor.process_start_wait", defaultProcessStartWait)
	v.SetDefault("supervisor.handoff_poll_every", defaultHandoffPollEvery)
	v.SetDefault("supervisor.handoff_wait_bound", defaultHandoffWaitBound)
	v.SetDefault("supervisor.stop_graceful", defaultStopGraceful)
	v.SetDefault("supervisor.stop_terminate", defaultStopTerminate)
	v.SetDefault("supervisor.reachability_sweep_cron", defaultReachabilitySweep)
	v.SetDefault("supervisor.role_bin", defaultRoleBin)

	v.SetDefault("metrics.sample_rate", defaultMetricsSampleRate)
	v.SetDefault("metrics.live_window", defaultLiveWindow)
	v.SetDefault("metrics.historic_retention", defaultHistoricRetention)
	v.SetDefault("metrics.system_retention", defaultSystemRetention)
	v.SetDefault("metrics.aggregation_period", defaultAggregationPeriod)

	v.SetDefault("channel_file", "/etc/chancore/channels.yaml")
}
