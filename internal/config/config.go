package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix       = "TERACTL"
	envConfigFile   = "TERACTL_CONFIG"
	configName      = "teractl"
	configType      = "toml"
	systemConfigDir = "/etc/teractl"

	DefaultLogLevel = LogLevelInfo
)

type Instrument struct {
	Address string `mapstructure:"address"`
}

type THzConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Channel   int           `mapstructure:"channel"`
	LocalAddr string        `mapstructure:"local_addr"`
}

type MercuryConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	TemperatureDevice string        `mapstructure:"temperature_device"`
	FieldDevice       string        `mapstructure:"field_device"`
	Ignore            []string      `mapstructure:"ignore"`
}

// FieldConfig holds the empirically tuned magnet settling constants.
type FieldConfig struct {
	SafetyMargin  float64       `mapstructure:"safety_margin"`
	Stabilization time.Duration `mapstructure:"stabilization"`
	SettleSlack   time.Duration `mapstructure:"settle_slack"`
	MaxSettle     time.Duration `mapstructure:"max_settle"`
}

type RunnerConfig struct {
	Quantum     time.Duration `mapstructure:"quantum"`
	SafeDumpDir string        `mapstructure:"safe_dump_dir"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type NotifyConfig struct {
	Addr string `mapstructure:"addr"`
}

// SweepConfig holds the sweep to run when the process is started
// non-interactively. Dwell is in seconds.
type SweepConfig struct {
	Axis  string  `mapstructure:"axis"`
	Start float64 `mapstructure:"start"`
	Stop  float64 `mapstructure:"stop"`
	Step  float64 `mapstructure:"step"`
	Dwell float64 `mapstructure:"dwell"`
}

type Config struct {
	LogLevel    LogLevel              `mapstructure:"log_level"`
	Simulate    bool                  `mapstructure:"simulate"`
	Instruments map[string]Instrument `mapstructure:"instruments"`
	THz         THzConfig             `mapstructure:"thz"`
	Mercury     MercuryConfig         `mapstructure:"mercury"`
	Field       FieldConfig           `mapstructure:"field"`
	Runner      RunnerConfig          `mapstructure:"runner"`
	Store       StoreConfig           `mapstructure:"store"`
	Telemetry   TelemetryConfig       `mapstructure:"telemetry"`
	Notify      NotifyConfig          `mapstructure:"notify"`
	Sweep       SweepConfig           `mapstructure:"sweep"`
	Operator    string                `mapstructure:"operator"`
	Sample      string                `mapstructure:"sample"`
	Label       string                `mapstructure:"label"`
	Comment     string                `mapstructure:"comment"`

	// Queries are raw "name=CMD" requests from the command line.
	Queries []string `mapstructure:"-"`

	v    *viper.Viper
	file string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("simulate", false)
	v.SetDefault("thz.timeout", 60*time.Second)
	v.SetDefault("thz.channel", 1)
	v.SetDefault("thz.local_addr", "")
	v.SetDefault("mercury.timeout", 5*time.Second)
	v.SetDefault("mercury.temperature_device", "")
	v.SetDefault("mercury.field_device", "")
	v.SetDefault("mercury.ignore", []string{})
	v.SetDefault("field.safety_margin", 1.3)
	v.SetDefault("field.stabilization", 15*time.Second)
	v.SetDefault("field.settle_slack", 30*time.Second)
	v.SetDefault("field.max_settle", 30*time.Minute)
	v.SetDefault("runner.quantum", 50*time.Millisecond)
	v.SetDefault("runner.safe_dump_dir", "")
	v.SetDefault("store.path", "teractl.db")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.path", "teractl-telemetry.db")
	v.SetDefault("notify.addr", "")
	v.SetDefault("sweep.axis", "count")
	v.SetDefault("sweep.start", 1.0)
	v.SetDefault("sweep.stop", 1.0)
	v.SetDefault("sweep.step", 1.0)
	v.SetDefault("sweep.dwell", 0.0)
	v.SetDefault("operator", "")
	v.SetDefault("sample", "")
	v.SetDefault("label", "")
	v.SetDefault("comment", "")
}

// Load reads configuration from flags in os.Args, the environment and the
// config file.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with an explicit argument list.
func LoadArgs(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to configuration file")
	queries := fs.StringArray("query", nil, "Send a raw query as name=CMD and print the reply")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("simulate", false, "Use the simulated THz source")
	fs.String("thz-address", "", "THz System address")
	fs.String("temperature-address", "", "Temperature Controller address")
	fs.String("field-address", "", "Field Controller address")
	fs.String("axis", "count", "Sweep axis (count, temperature, field)")
	fs.Float64("start", 1, "Sweep start value")
	fs.Float64("stop", 1, "Sweep stop value")
	fs.Float64("step", 1, "Sweep step")
	fs.Float64("dwell", 0, "Dwell time per point in seconds")
	fs.String("operator", "", "Operator name")
	fs.String("sample", "", "Sample name")
	fs.String("label", "", "Run label")
	fs.String("comment", "", "Run comment")
	fs.String("store", "teractl.db", "Run store database path")
	fs.String("safe-dump-dir", "", "Directory for per-step safe dumps")
	fs.String("notify-addr", "", "Listen address for the event WebSocket")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"log_level":                          "log-level",
		"simulate":                           "simulate",
		instrumentKey(InstrumentTHz):         "thz-address",
		instrumentKey(InstrumentTemperature): "temperature-address",
		instrumentKey(InstrumentField):       "field-address",
		"sweep.axis":                         "axis",
		"sweep.start":                        "start",
		"sweep.stop":                         "stop",
		"sweep.step":                         "step",
		"sweep.dwell":                        "dwell",
		"operator":                           "operator",
		"sample":                             "sample",
		"label":                              "label",
		"comment":                            "comment",
		"store.path":                         "store",
		"runner.safe_dump_dir":               "safe-dump-dir",
		"notify.addr":                        "notify-addr",
	}
	for key, flag := range bindings {
		f := fs.Lookup(flag)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := *configFile
	if path == "" {
		path = os.Getenv(envConfigFile)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath(systemConfigDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{v: v, file: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	cfg.Queries = *queries

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func instrumentKey(name string) string {
	return "instruments." + strings.ToLower(name) + ".address"
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch {
	case !c.LogLevel.IsValid():
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	case c.THz.Timeout <= 0:
		return errFactory.WithData(ErrInvalidTimeout, "thz.timeout")
	case c.Mercury.Timeout <= 0:
		return errFactory.WithData(ErrInvalidTimeout, "mercury.timeout")
	case c.Runner.Quantum <= 0:
		return errFactory.New(ErrInvalidQuantum)
	case c.Field.SafetyMargin < 1:
		return errFactory.WithData(ErrInvalidSafetyMargin, c.Field.SafetyMargin)
	case c.Field.SettleSlack < 0:
		return errFactory.WithData(ErrInvalidTimeout, "field.settle_slack")
	case c.THz.Channel != 1 && c.THz.Channel != 2:
		return errFactory.WithData(ErrInvalidChannel, c.THz.Channel)
	}

	return nil
}

// Address returns the configured address of a logical instrument, or "".
// Lookups are case-insensitive because viper folds keys to lower case.
func (c *Config) Address(name string) string {
	if c.Instruments == nil {
		return ""
	}
	return c.Instruments[strings.ToLower(name)].Address
}

// SaveAddress records the address of a logical instrument and writes the
// configuration file. Without a loaded file, teractl.toml in the working
// directory is created.
func (c *Config) SaveAddress(name, address string) error {
	errFactory := errors.New()

	if c.Instruments == nil {
		c.Instruments = make(map[string]Instrument)
	}
	c.Instruments[strings.ToLower(name)] = Instrument{Address: address}

	if c.v == nil {
		return errFactory.New(ErrNoConfigFile)
	}
	c.v.Set(instrumentKey(name), address)

	file := c.file
	if file == "" {
		file = configName + "." + configType
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errFactory.Wrap(errors.ErrWriteConfig, err)
		}
	}
	if err := c.v.WriteConfigAs(file); err != nil {
		return errFactory.Wrap(errors.ErrWriteConfig, err)
	}
	c.file = file

	return nil
}

// File returns the configuration file in use, or "" if none was read.
func (c *Config) File() string {
	return c.file
}
