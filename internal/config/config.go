package config

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix    = "HMSD"
	DefaultLogLevel     = "info"
	DefaultInterval     = 24 * time.Hour
	DefaultCycleTimeout = 2 * time.Minute
	DefaultDBPath       = "/var/lib/hmsd/telemetry.db"

	configEnvVar = "CONFIG"
	configName   = "hmsd"
)

// Config holds the daemon configuration after merging defaults, the TOML
// file, HMSD_* environment variables and command line flags.
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
	Debug        bool          `mapstructure:"debug"`
	Verbose      bool          `mapstructure:"verbose"`
	PIDDir       string        `mapstructure:"pid_dir"`

	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	GeoIP     GeoIPConfig     `mapstructure:"geoip"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// Consent is the default consent map applied by --enable
	Consent map[string]bool `mapstructure:"consent"`

	// One-shot commands, flags only
	Enable  bool `mapstructure:"-"`
	Disable bool `mapstructure:"-"`
	Status  bool `mapstructure:"-"`
	Once    bool `mapstructure:"-"`

	// ConfigFile is the file the configuration was read from, if any
	ConfigFile string `mapstructure:"-"`

	opts options
}

type TelemetryConfig struct {
	DBPath     string        `mapstructure:"db_path"`
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	Simulation bool          `mapstructure:"simulation"`
	// TestMode suppresses sent timestamp updates
	TestMode bool `mapstructure:"test_mode"`
}

type GeoIPConfig struct {
	Order   []string          `mapstructure:"order"`
	Timeout time.Duration     `mapstructure:"timeout"`
	URLs    map[string]string `mapstructure:"urls"`
}

type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("cycle_timeout", DefaultCycleTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("pid_dir", os.TempDir())

	v.SetDefault("telemetry.db_path", DefaultDBPath)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.timeout", 30*time.Second)
	v.SetDefault("telemetry.retries", 3)
	v.SetDefault("telemetry.simulation", false)
	v.SetDefault("telemetry.test_mode", false)

	v.SetDefault("geoip.order", []string{"freegeoip", "ipapi"})
	v.SetDefault("geoip.timeout", 10*time.Second)
	v.SetDefault("geoip.urls", map[string]string{
		"freegeoip": "https://api.freegeoip.app/json/",
		"ipapi":     "http://ip-api.com/json/?fields=query,countryCode,country,regionName,city,zip,timezone,lat,lon,currency",
	})

	v.SetDefault("admin.addr", "")
	v.SetDefault("metrics.enabled", true)
}

func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)

	fs.String("config", "", "Path to the configuration file")
	fs.Duration("interval", DefaultInterval, "Interval between telemetry cycles")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("db-path", DefaultDBPath, "Path to the telemetry settings database")
	fs.String("endpoint", "", "Telemetry collection endpoint")
	fs.Bool("simulation", false, "Skip the network call when sending telemetry")
	fs.String("admin-addr", "", "Listen address of the admin HTTP surface")

	fs.BoolVar(&cfg.Enable, "enable", false, "Enable telemetry with the configured consent and exit")
	fs.BoolVar(&cfg.Disable, "disable", false, "Disable telemetry and exit")
	fs.BoolVar(&cfg.Status, "status", false, "Print the telemetry settings and exit")
	fs.BoolVar(&cfg.Once, "once", false, "Run a single telemetry cycle and exit")

	return fs
}

var flagKeys = map[string]string{
	"interval":   "interval",
	"log-level":  "log_level",
	"debug":      "debug",
	"verbose":    "verbose",
	"db-path":    "telemetry.db_path",
	"endpoint":   "telemetry.endpoint",
	"simulation": "telemetry.simulation",
	"admin-addr": "admin.addr",
}

// Load loads configuration from all sources and validates it
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	cfg := &Config{opts: o}
	v := viper.New()
	setDefaults(v)

	fs := newFlagSet(cfg)
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_" + configEnvVar)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/hmsd")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload loads the configuration again from the sources cfg was loaded from
func (c *Config) Reload() (*Config, error) {
	path := c.ConfigFile
	if path == "" {
		path = c.opts.configPath
	}

	return Load(
		WithConfigFile(path),
		WithEnvPrefix(c.opts.envPrefix),
		WithArgs(c.opts.args),
	)
}

// Validate checks the merged configuration
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.CycleTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.CycleTimeout)
	}
	if c.Telemetry.DBPath == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "telemetry.db_path must be set")
	}
	if c.Telemetry.Retries < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "telemetry.retries must be at least 1")
	}
	if c.Enable && c.Disable {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "--enable and --disable are mutually exclusive")
	}

	return nil
}

// GeoIPURL resolves the base URL configured for the named geo-IP provider
func (c *Config) GeoIPURL(name string) (string, error) {
	if url := c.GeoIP.URLs[name]; url != "" {
		return url, nil
	}

	return "", errors.New().WithData(errors.ErrProviderNotConfigured, name)
}

// Holder publishes the current configuration to concurrent readers
type Holder struct {
	current atomic.Pointer[Config]
}

func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

func (h *Holder) Get() *Config {
	return h.current.Load()
}

func (h *Holder) Set(cfg *Config) {
	h.current.Store(cfg)
}

// GeoIPURL resolves a provider base URL against the current configuration
func (h *Holder) GeoIPURL(name string) (string, error) {
	return h.Get().GeoIPURL(name)
}
