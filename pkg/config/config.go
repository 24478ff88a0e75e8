package config

import (
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Dir     string `default:"." usage:"Working directory containing the marker files"`
	Dry     bool   `default:"false" usage:"Only print the commands, don't execute anything"`
	Report  string `usage:"Write a YAML report of the run to this file"`
	// Toolchains replaces the built-in toolchain table with the given Starlark script
	Toolchains string `usage:"Load the toolchains from this script instead of the built-in table"`
	NoColor bool   `default:"false" usage:"Disable colored status output"`
	Log     struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Values come from the defaults and TOOL_* environment variables; flags are handled by the CLI.
func Loader() (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "TOOL",
		SkipFiles:        true,
		SkipFlags:        true,
		AllowUnknownEnvs: true,
	})
}

// Load returns the configuration from the defaults and the environment
func Load() (*Config, error) {
	cfg, loader := Loader()
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if _, present := os.LookupEnv("NO_COLOR"); present {
		cfg.NoColor = true
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Dir == "" {
		return eris.New("Invalid value for dir: can't be empty")
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return eris.Wrapf(err, "Invalid value for dir: %s", cfg.Dir)
	}

	if !info.IsDir() {
		return eris.Errorf("Invalid value for dir: %s is not a directory", cfg.Dir)
	}

	if cfg.Toolchains != "" {
		info, err = os.Stat(cfg.Toolchains)
		if err != nil {
			return eris.Wrapf(err, "Invalid value for toolchains: %s", cfg.Toolchains)
		}

		if info.IsDir() {
			return eris.Errorf("Invalid value for toolchains: %s is a directory", cfg.Toolchains)
		}
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
