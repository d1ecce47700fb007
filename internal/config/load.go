package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables recognised by the Loader,
// e.g. HTTPIT_PORT=9000 or HTTPIT_NO_LISTING=true.
const EnvPrefix = "HTTPIT"

// Loader resolves a ServerConfig from layered sources.
// Precedence (lowest first): defaults, config file, HTTPIT_* env, changed flags.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("root", d.Root)
	v.SetDefault("ipv4-only", false)
	v.SetDefault("ipv6-only", false)
	v.SetDefault("bind-ip", "")
	v.SetDefault("debug", false)
	v.SetDefault("daemon", false)
	v.SetDefault("syslog", false)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max-connections", d.MaxConnections)
	v.SetDefault("cors", "")
	v.SetDefault("host", "")
	v.SetDefault("canonical-name", false)
	v.SetDefault("virtual-hosts", false)
	v.SetDefault("index", "")
	v.SetDefault("no-listing", false)
	v.SetDefault("max-cached-dirs", d.MaxCachedDirs)
	v.SetDefault("log", "")
	v.SetDefault("flush-log", false)
	v.SetDefault("mime-file", "")
	v.SetDefault("pid-file", "")
	v.SetDefault("auth", "")
	v.SetDefault("chroot", false)
	v.SetDefault("expire-seconds", 0)
	v.SetDefault("cgi-dir", "")
	v.SetDefault("user-dir", "")
	v.SetDefault("binary", "")
	v.SetDefault("env", []string{})
	v.SetDefault("output-dir", "")
	v.SetDefault("start-window", d.StartWindow)
	v.SetDefault("stop-timeout", d.StopTimeout)
	v.SetDefault("poll-interval", d.PollInterval)
	v.SetDefault("restart-schedule", "")
	return &Loader{v: v}
}

// BindFlags binds every flag of fs whose name matches a config key.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	return l.v.BindPFlags(fs)
}

// ReadFile merges a config file. The format is derived from the extension (toml, yaml, json).
func (l *Loader) ReadFile(path string) error {
	if path == "" {
		return nil
	}
	l.v.SetConfigFile(filepath.Clean(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		l.v.SetConfigType("yaml")
	case ".json":
		l.v.SetConfigType("json")
	default:
		l.v.SetConfigType("toml")
	}
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Set overrides a single key; it takes precedence over every other source.
func (l *Loader) Set(key string, value any) { l.v.Set(key, value) }

// IsSet reports whether key was provided by any source other than defaults.
func (l *Loader) IsSet(key string) bool { return l.v.IsSet(key) }

// Config decodes the merged sources into a ServerConfig. It does not validate.
func (l *Loader) Config() (ServerConfig, error) {
	var c ServerConfig
	if err := l.v.Unmarshal(&c); err != nil {
		return ServerConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// YAML renders the configuration with the auth secret masked.
func (c ServerConfig) YAML() ([]byte, error) {
	if user, _, ok := strings.Cut(c.Auth, ":"); ok {
		c.Auth = user + ":***"
	}
	return yaml.Marshal(c)
}
