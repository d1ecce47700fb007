package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/loykin/httpit/internal/config"
)

// positional is the `[path|port] [port]` shorthand of the root command.
type positional struct {
	Root    string
	Port    int
	HasRoot bool
	HasPort bool
}

// parsePositional reads `8080`, `./site` or `./site 3000`. A leading integer is
// always a port; a path may be followed by a port.
func parsePositional(args []string) (positional, error) {
	var p positional
	switch {
	case len(args) == 0:
		return p, nil
	case len(args) > 2:
		return p, fmt.Errorf("accepts at most 2 arguments, received %d", len(args))
	}
	if n, err := strconv.Atoi(args[0]); err == nil {
		if len(args) > 1 {
			return p, fmt.Errorf("unexpected argument %q after port %d", args[1], n)
		}
		p.Port, p.HasPort = n, true
		return p, nil
	}
	p.Root, p.HasRoot = args[0], true
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return p, fmt.Errorf("%w %q", config.ErrInvalidPort, args[1])
		}
		p.Port, p.HasPort = n, true
	}
	return p, nil
}

// applyPositional overrides file and env values with the positional ones,
// unless the matching named flag was given explicitly. A lone port serves the
// current directory.
func applyPositional(l *config.Loader, fs *pflag.FlagSet, args []string) error {
	p, err := parsePositional(args)
	if err != nil {
		return err
	}
	if p.HasPort && !p.HasRoot {
		p.Root, p.HasRoot = ".", true
	}
	if p.HasRoot && !fs.Changed("root") {
		l.Set("root", p.Root)
	}
	if p.HasPort && !fs.Changed("port") {
		l.Set("port", p.Port)
	}
	return nil
}

// loadServerConfig resolves the effective ServerConfig of one invocation:
// defaults < config file < HTTPIT_* env < positional < explicit flags.
// The result is normalized but not validated.
func loadServerConfig(fs *pflag.FlagSet, configPath string, args []string) (config.ServerConfig, error) {
	l := config.NewLoader()
	if err := l.BindFlags(fs); err != nil {
		return config.ServerConfig{}, err
	}
	if err := l.ReadFile(configPath); err != nil {
		return config.ServerConfig{}, err
	}
	if err := applyPositional(l, fs, args); err != nil {
		return config.ServerConfig{}, err
	}
	c, err := l.Config()
	if err != nil {
		return config.ServerConfig{}, err
	}
	return c.Normalize()
}

// addServerFlags registers the webfsd options and the supervision settings.
// Flag names equal config keys so the loader can bind them directly.
func addServerFlags(fs *pflag.FlagSet) {
	d := config.Default()

	fs.IntP("port", "p", d.Port, "port to listen on")
	fs.StringP("root", "r", d.Root, "document root directory")

	fs.BoolP("ipv4-only", "4", false, "use IPv4 only")
	fs.BoolP("ipv6-only", "6", false, "use IPv6 only")
	fs.StringP("bind-ip", "i", "", "bind to a specific IP address")

	fs.BoolP("debug", "d", false, "enable webfsd debug output on the terminal")
	fs.BoolP("daemon", "D", false, "let webfsd detach into the background")
	fs.BoolP("syslog", "s", false, "log start/stop/errors to syslog")
	fs.IntP("timeout", "t", d.Timeout, "network timeout in seconds")
	fs.IntP("max-connections", "c", d.MaxConnections, "maximum concurrent connections")

	fs.StringP("cors", "O", "", "CORS header value")
	fs.StringP("host", "n", "", "server hostname")
	fs.BoolP("canonical-name", "N", false, "use the canonical name for the host")
	fs.BoolP("virtual-hosts", "v", false, "enable virtual hosts")

	fs.StringP("index", "f", "", "index file name")
	fs.BoolP("no-listing", "j", false, "disable directory listings")
	fs.IntP("max-cached-dirs", "a", d.MaxCachedDirs, "maximum cached directories")
	fs.BoolP("chroot", "R", false, "chroot to the document root")

	fs.StringP("log", "l", "", "webfsd access log file")
	fs.BoolP("flush-log", "L", false, "flush the access log after every line")

	fs.StringP("mime-file", "m", "", "MIME types file")
	fs.StringP("pid-file", "k", "", "webfsd PID file")
	fs.StringP("auth", "b", "", "basic authentication (user:pass)")

	fs.IntP("expire-seconds", "e", 0, "Expires header in seconds from now")
	fs.StringP("cgi-dir", "x", "", "CGI directory, relative to the root")
	fs.StringP("user-dir", "~", "", "directory served for ~user requests")

	fs.String("binary", "", "webfsd executable to use instead of searching")
	fs.StringArray("env", nil, "extra KEY=VALUE for webfsd (repeatable, ${VAR} expanded)")
	fs.String("output-dir", "", "write webfsd stdout/stderr to rotated files in this directory")
	fs.Duration("start-window", d.StartWindow, "how long webfsd must stay up to count as started")
	fs.Duration("stop-timeout", d.StopTimeout, "grace period between SIGTERM and SIGKILL")
	fs.Duration("poll-interval", d.PollInterval, "liveness poll interval while serving")
	fs.String("restart-schedule", "", "restart webfsd periodically, e.g. \"@every 24h\"")
}
