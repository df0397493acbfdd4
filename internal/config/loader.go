package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: GOEXTRACT_SINK_DATABASE_PASSWORD
// overrides sink.database.password.
const EnvPrefix = "GOEXTRACT"

// envKeys are the settings that may come from the environment instead of the
// file. They are bound explicitly so viper unmarshals them even when the file
// leaves them out.
var envKeys = []string{
	"source.snapshot",
	"source.binary",
	"source.version",
	"sink.database.host",
	"sink.database.user",
	"sink.database.password",
	"sink.database.database",
	"sink.database.path",
	"logging.level",
}

// Load reads a YAML configuration file on top of DefaultConfig.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper decodes an already populated viper instance.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for _, s := range cfg.expandable() {
		*s = expandEnvVar(*s)
	}
	return cfg, nil
}

// expandable lists the string settings that may reference ${VAR} or $VAR.
func (c *Config) expandable() []*string {
	db := &c.Sink.Database
	return []*string{
		&c.Source.Snapshot, &c.Source.Binary, &c.Source.Version,
		&c.Schema.Path, &c.Output.Directory, &c.Manifest.Path,
		&db.Host, &db.User, &db.Password, &db.Database, &db.Path,
		&c.Logging.Output,
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVar substitutes set environment variables. References to unset
// variables are left as written.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envVarPattern.FindStringSubmatch(ref)
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return ref
	})
}

// ApplyOverrides applies non-empty CLI flag values.
func (c *Config) ApplyOverrides(logLevel, logFormat, snapshot, outputDir string) {
	for _, o := range []struct {
		dst *string
		val string
	}{
		{&c.Logging.Level, logLevel},
		{&c.Logging.Format, logFormat},
		{&c.Source.Snapshot, snapshot},
		{&c.Output.Directory, outputDir},
	} {
		if o.val != "" {
			*o.dst = o.val
		}
	}
}
