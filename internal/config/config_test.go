package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func validConfig(t *testing.T) ServerConfig {
	t.Helper()
	c := Default()
	c.Root = t.TempDir()
	return c
}

func TestValidate_Defaults(t *testing.T) {
	c := validConfig(t)
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*ServerConfig)
		want   error
	}{
		{"missing root", func(c *ServerConfig) { c.Root = filepath.Join(dir, "nope") }, ErrRootMissing},
		{"root is file", func(c *ServerConfig) { c.Root = file }, ErrRootNotDir},
		{"port zero", func(c *ServerConfig) { c.Port = 0 }, ErrInvalidPort},
		{"port too large", func(c *ServerConfig) { c.Port = 70000 }, ErrInvalidPort},
		{"auth without separator", func(c *ServerConfig) { c.Auth = "userpass" }, ErrInvalidAuth},
		{"auth without user", func(c *ServerConfig) { c.Auth = ":secret" }, ErrInvalidAuth},
		{"both families", func(c *ServerConfig) { c.IPv4Only, c.IPv6Only = true, true }, ErrConflictingFamily},
		{"timeout", func(c *ServerConfig) { c.Timeout = 0 }, ErrInvalidValue},
		{"max connections", func(c *ServerConfig) { c.MaxConnections = -1 }, ErrInvalidValue},
		{"max cached dirs", func(c *ServerConfig) { c.MaxCachedDirs = 0 }, ErrInvalidValue},
		{"expire", func(c *ServerConfig) { c.ExpireSeconds = -5 }, ErrInvalidValue},
		{"env", func(c *ServerConfig) { c.Env = []string{"NOEQUALS"} }, ErrInvalidValue},
		{"restart schedule", func(c *ServerConfig) { c.RestartSchedule = "0 3 * * *" }, ErrInvalidValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			c.Root = dir
			tc.mutate(&c)
			err := c.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidate_PortBounds(t *testing.T) {
	for _, p := range []int{1, 80, 65535} {
		c := validConfig(t)
		c.Port = p
		if err := c.Validate(); err != nil {
			t.Fatalf("port %d should be valid: %v", p, err)
		}
	}
}

func TestNormalize_AbsRootAndDefaults(t *testing.T) {
	c := ServerConfig{Root: "."}
	n, err := c.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !filepath.IsAbs(n.Root) {
		t.Fatalf("root not absolute: %q", n.Root)
	}
	if n.StartWindow != DefaultStartWindow || n.StopTimeout != DefaultStopTimeout || n.PollInterval != DefaultPollInterval {
		t.Fatalf("supervision defaults not applied: %+v", n)
	}
	if c.Root != "." {
		t.Fatalf("normalize must not mutate the receiver")
	}
}

func TestArgs_Minimal(t *testing.T) {
	c := Default()
	c.Root = "/srv/www"
	got := c.Args()
	want := []string{"-F", "-p", "8000", "-r", "/srv/www", "-t", "60", "-c", "32", "-a", "128"}
	if !slices.Equal(got, want) {
		t.Fatalf("args mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestArgs_AllOptions(t *testing.T) {
	c := Default()
	c.Root = "/srv/www"
	c.Port = 3000
	c.IPv6Only = true
	c.BindIP = "::1"
	c.Debug = true
	c.Daemon = true
	c.Syslog = true
	c.CORS = "*"
	c.Host = "example.org"
	c.CanonicalName = true
	c.VirtualHosts = true
	c.Index = "index.html"
	c.NoListing = true
	c.Log = "/var/log/webfsd.log"
	c.FlushLog = true
	c.MimeFile = "/etc/mime.types"
	c.PIDFile = "/run/webfsd.pid"
	c.Auth = "u:p"
	c.Chroot = true
	c.ExpireSeconds = 30
	c.CGIDir = "cgi-bin"
	c.UserDir = "public_html"

	got := strings.Join(c.Args(), " ")
	want := "-p 3000 -R /srv/www -6 -i ::1 -d -s -t 60 -c 32 -O * -n example.org -N -v -f index.html -j -a 128 " +
		"-L /var/log/webfsd.log -m /etc/mime.types -k /run/webfsd.pid -b u:p -e 30 -x cgi-bin -~ public_html"
	if got != want {
		t.Fatalf("args mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestArgs_LogWithoutFlush(t *testing.T) {
	c := Default()
	c.Log = "access.log"
	args := c.Args()
	i := slices.Index(args, "-l")
	if i < 0 || args[i+1] != "access.log" {
		t.Fatalf("expected -l access.log in %q", args)
	}
	if slices.Contains(args, "-L") {
		t.Fatalf("unexpected -L in %q", args)
	}
}

func TestLoader_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "httpit.toml")
	data := `
port = 9000
root = "/tmp"
no-listing = true
timeout = 10
start-window = "250ms"
env = ["A=1", "B=2"]
`
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	t.Setenv("HTTPIT_TIMEOUT", "20")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntP("port", "p", DefaultPort, "")
	fs.Int("timeout", DefaultTimeout, "")
	if err := fs.Parse([]string{"--port", "9100"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	l := NewLoader()
	if err := l.BindFlags(fs); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := l.ReadFile(file); err != nil {
		t.Fatalf("read: %v", err)
	}
	c, err := l.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if c.Port != 9100 {
		t.Fatalf("flag should win over file: port=%d", c.Port)
	}
	if c.Timeout != 20 {
		t.Fatalf("env should win over file and flag default: timeout=%d", c.Timeout)
	}
	if !c.NoListing || c.Root != "/tmp" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.StartWindow != 250*time.Millisecond {
		t.Fatalf("duration not decoded: %v", c.StartWindow)
	}
	if !slices.Equal(c.Env, []string{"A=1", "B=2"}) {
		t.Fatalf("env list not decoded: %q", c.Env)
	}
	if c.MaxConnections != DefaultMaxConns {
		t.Fatalf("default not kept: %d", c.MaxConnections)
	}
}

func TestLoader_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "httpit.yaml")
	if err := os.WriteFile(file, []byte("port: 8081\nindex: home.html\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	l := NewLoader()
	if err := l.ReadFile(file); err != nil {
		t.Fatalf("read: %v", err)
	}
	c, err := l.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if c.Port != 8081 || c.Index != "home.html" {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	l := NewLoader()
	if err := l.ReadFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestYAML_MasksSecretAndRoundTrips(t *testing.T) {
	c := Default()
	c.Root = "/srv"
	c.Auth = "admin:hunter2"
	b, err := c.YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "admin:***") || !strings.Contains(out, "max-connections: 32") {
		t.Fatalf("unexpected yaml: %s", out)
	}

	file := filepath.Join(t.TempDir(), "dump.yaml")
	if err := os.WriteFile(file, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := NewLoader()
	if err := l.ReadFile(file); err != nil {
		t.Fatalf("read dump: %v", err)
	}
	back, err := l.Config()
	if err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if back.Root != "/srv" || back.StopTimeout != DefaultStopTimeout {
		t.Fatalf("dump did not round-trip: %+v", back)
	}
}

func TestFeatures(t *testing.T) {
	c := Default()
	if len(c.Features()) != 0 {
		t.Fatalf("no features expected for defaults: %q", c.Features())
	}
	c.NoListing = true
	c.Auth = "a:b"
	f := c.Features()
	if !slices.Contains(f, "directory listing disabled") || !slices.Contains(f, "basic authentication") {
		t.Fatalf("unexpected features: %q", f)
	}
}
