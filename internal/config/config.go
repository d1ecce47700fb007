package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/httpit/internal/cron"
)

// Defaults mirror the webfsd defaults so that an empty invocation behaves like plain `webfsd -F`.
const (
	DefaultPort          = 8000
	DefaultRoot          = "."
	DefaultTimeout       = 60
	DefaultMaxConns      = 32
	DefaultMaxCachedDirs = 128
	DefaultStartWindow   = 100 * time.Millisecond
	DefaultStopTimeout   = 3 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
)

var (
	ErrInvalidPort       = errors.New("invalid port number")
	ErrRootMissing       = errors.New("document root does not exist")
	ErrRootNotDir        = errors.New("document root is not a directory")
	ErrInvalidAuth       = errors.New("authentication must be in 'user:pass' format")
	ErrConflictingFamily = errors.New("ipv4-only and ipv6-only are mutually exclusive")
	ErrInvalidValue      = errors.New("invalid value")
)

// ServerConfig is the complete set of parameters used to launch one webfsd instance.
// It is built once (from flags, a config file or the library API), validated, and then
// only ever copied: the supervisor keeps its own value and never mutates it.
type ServerConfig struct {
	// Basic options
	Port int    `json:"port" yaml:"port" mapstructure:"port"`
	Root string `json:"root" yaml:"root" mapstructure:"root"`

	// Network options
	IPv4Only bool   `json:"ipv4_only" yaml:"ipv4-only" mapstructure:"ipv4-only"`
	IPv6Only bool   `json:"ipv6_only" yaml:"ipv6-only" mapstructure:"ipv6-only"`
	BindIP   string `json:"bind_ip,omitempty" yaml:"bind-ip,omitempty" mapstructure:"bind-ip"`

	// Server behavior
	Debug          bool `json:"debug" yaml:"debug" mapstructure:"debug"`
	Daemon         bool `json:"daemon" yaml:"daemon" mapstructure:"daemon"`
	Syslog         bool `json:"syslog" yaml:"syslog" mapstructure:"syslog"`
	Timeout        int  `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxConnections int  `json:"max_connections" yaml:"max-connections" mapstructure:"max-connections"`

	// HTTP options
	CORS          string `json:"cors,omitempty" yaml:"cors,omitempty" mapstructure:"cors"`
	Host          string `json:"host,omitempty" yaml:"host,omitempty" mapstructure:"host"`
	CanonicalName bool   `json:"canonical_name" yaml:"canonical-name" mapstructure:"canonical-name"`
	VirtualHosts  bool   `json:"virtual_hosts" yaml:"virtual-hosts" mapstructure:"virtual-hosts"`

	// Directory options
	Index         string `json:"index,omitempty" yaml:"index,omitempty" mapstructure:"index"`
	NoListing     bool   `json:"no_listing" yaml:"no-listing" mapstructure:"no-listing"`
	MaxCachedDirs int    `json:"max_cached_dirs" yaml:"max-cached-dirs" mapstructure:"max-cached-dirs"`

	// Logging (webfsd access log)
	Log      string `json:"log,omitempty" yaml:"log,omitempty" mapstructure:"log"`
	FlushLog bool   `json:"flush_log" yaml:"flush-log" mapstructure:"flush-log"`

	// Files and security
	MimeFile string `json:"mime_file,omitempty" yaml:"mime-file,omitempty" mapstructure:"mime-file"`
	PIDFile  string `json:"pid_file,omitempty" yaml:"pid-file,omitempty" mapstructure:"pid-file"`
	Auth     string `json:"auth,omitempty" yaml:"auth,omitempty" mapstructure:"auth"`
	Chroot   bool   `json:"chroot" yaml:"chroot" mapstructure:"chroot"`

	// Advanced features
	ExpireSeconds int    `json:"expire_seconds" yaml:"expire-seconds" mapstructure:"expire-seconds"`
	CGIDir        string `json:"cgi_dir,omitempty" yaml:"cgi-dir,omitempty" mapstructure:"cgi-dir"`
	UserDir       string `json:"user_dir,omitempty" yaml:"user-dir,omitempty" mapstructure:"user-dir"`

	// Supervision (never passed to webfsd)
	Binary       string        `json:"binary,omitempty" yaml:"binary,omitempty" mapstructure:"binary"`
	Env          []string      `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
	OutputDir    string        `json:"output_dir,omitempty" yaml:"output-dir,omitempty" mapstructure:"output-dir"`
	StartWindow  time.Duration `json:"start_window" yaml:"start-window" mapstructure:"start-window"`
	StopTimeout  time.Duration `json:"stop_timeout" yaml:"stop-timeout" mapstructure:"stop-timeout"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll-interval" mapstructure:"poll-interval"`
	// RestartSchedule restarts a foreground webfsd periodically, e.g. "@every 24h",
	// so that it reopens its access log.
	RestartSchedule string `json:"restart_schedule,omitempty" yaml:"restart-schedule,omitempty" mapstructure:"restart-schedule"`
}

// Default returns a ServerConfig populated with webfsd defaults.
func Default() ServerConfig {
	return ServerConfig{
		Port:           DefaultPort,
		Root:           DefaultRoot,
		Timeout:        DefaultTimeout,
		MaxConnections: DefaultMaxConns,
		MaxCachedDirs:  DefaultMaxCachedDirs,
		StartWindow:    DefaultStartWindow,
		StopTimeout:    DefaultStopTimeout,
		PollInterval:   DefaultPollInterval,
	}
}

// Foreground reports whether webfsd should stay attached to the supervisor.
func (c ServerConfig) Foreground() bool { return !c.Daemon }

// Name is the instance label used in logs, metrics and history records.
func (c ServerConfig) Name() string { return "webfsd-" + strconv.Itoa(c.Port) }

// Normalize returns a copy with an absolute root and supervision defaults filled in.
func (c ServerConfig) Normalize() (ServerConfig, error) {
	if strings.TrimSpace(c.Root) == "" {
		c.Root = DefaultRoot
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return c, fmt.Errorf("resolve root %q: %w", c.Root, err)
	}
	c.Root = abs
	if c.StartWindow <= 0 {
		c.StartWindow = DefaultStartWindow
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Env != nil {
		c.Env = append([]string(nil), c.Env...)
	}
	return c, nil
}

// Validate checks everything that must hold before any process is spawned.
func (c ServerConfig) Validate() error {
	if err := CheckRoot(c.Root); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w %d", ErrInvalidPort, c.Port)
	}
	if c.Auth != "" {
		user, _, ok := strings.Cut(c.Auth, ":")
		if !ok || user == "" {
			return ErrInvalidAuth
		}
	}
	if c.IPv4Only && c.IPv6Only {
		return ErrConflictingFamily
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %d", ErrInvalidValue, c.Timeout)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max-connections must be positive, got %d", ErrInvalidValue, c.MaxConnections)
	}
	if c.MaxCachedDirs <= 0 {
		return fmt.Errorf("%w: max-cached-dirs must be positive, got %d", ErrInvalidValue, c.MaxCachedDirs)
	}
	if c.ExpireSeconds < 0 {
		return fmt.Errorf("%w: expire-seconds cannot be negative", ErrInvalidValue)
	}
	if c.RestartSchedule != "" {
		if _, err := cron.ParseEvery(c.RestartSchedule); err != nil {
			return fmt.Errorf("%w: restart-schedule: %w", ErrInvalidValue, err)
		}
	}
	for i, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: env[%d] %q must be KEY=VALUE", ErrInvalidValue, i, kv)
		}
	}
	return nil
}

// CheckRoot verifies that root exists and is a directory.
func CheckRoot(root string) error {
	fi, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRootMissing, root)
		}
		return fmt.Errorf("stat root %s: %w", root, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDir, root)
	}
	return nil
}

// Features lists the enabled options in a human-readable form, used for the startup banner.
func (c ServerConfig) Features() []string {
	var out []string
	if c.BindIP != "" {
		out = append(out, "bound to IP "+c.BindIP)
	}
	if c.Host != "" {
		out = append(out, "hostname "+c.Host)
	}
	if c.IPv4Only {
		out = append(out, "IPv4 only")
	}
	if c.IPv6Only {
		out = append(out, "IPv6 only")
	}
	if c.Debug {
		out = append(out, "debug")
	}
	if c.NoListing {
		out = append(out, "directory listing disabled")
	}
	if c.Auth != "" {
		out = append(out, "basic authentication")
	}
	if c.VirtualHosts {
		out = append(out, "virtual hosts")
	}
	if c.Chroot {
		out = append(out, "chroot")
	}
	if c.CORS != "" {
		out = append(out, "CORS "+c.CORS)
	}
	if c.ExpireSeconds > 0 {
		out = append(out, fmt.Sprintf("cache expires %ds", c.ExpireSeconds))
	}
	if c.CGIDir != "" {
		out = append(out, "CGI "+c.CGIDir)
	}
	if c.Log != "" {
		out = append(out, "access log "+c.Log)
	}
	return out
}
