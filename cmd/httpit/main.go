package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/httpit"
	"github.com/loykin/httpit/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps the outcome to an exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRoot()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// buildRoot creates the root command. It serves when called without a subcommand.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags, serveFlags)
	root.AddCommand(
		createStatusCommand(),
		createStopCommand(),
		createStartCommand(),
		createRestartCommand(),
		createConfigCommand(globalFlags),
		createHistoryCommand(),
		createHashPasswordCommand(),
	)
	return root
}

// createRootCommand creates the serve command and the persistent logging flags.
func createRootCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "httpit [path|port] [port]",
		Short: "Serve a directory with webfsd",
		Long: `httpit locates the webfsd static file server, starts it with the given
options and keeps it supervised until interrupted.

Examples:
  httpit                      # serve the current directory on port 8000
  httpit 8080                 # serve the current directory on port 8080
  httpit /path/to/files       # serve a directory on port 8000
  httpit . 3000               # serve the current directory on port 3000
  httpit -p 8080 -r /var/www --no-listing
  httpit . 8080 --api-listen 127.0.0.1:9090   # with the control API`,
		Args:          cobra.MaximumNArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, globalFlags, serveFlags, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&globalFlags.ConfigPath, "config", "", "config file (toml, yaml or json)")
	pf.StringVar(&globalFlags.LogLevel, "log-level", "info", "supervisor log level (debug, info, warn, error)")
	pf.StringVar(&globalFlags.LogFormat, "log-format", "text", "supervisor log format (text or json)")
	pf.StringVar(&globalFlags.SupervisorLog, "supervisor-log", "", "also write supervisor logs to this rotated file")
	pf.BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "do not log to the terminal")

	fs := root.Flags()
	addServerFlags(fs)

	fs.StringVar(&serveFlags.MetricsListen, "metrics-listen", "", "serve Prometheus /metrics on this address")
	fs.DurationVar(&serveFlags.ResourceEvery, "resource-interval", 5*time.Second, "CPU/memory sampling interval for metrics")
	fs.StringArrayVar(&serveFlags.HistoryDSNs, "history-dsn", nil, "record lifecycle events (sqlite path, postgres://, clickhouse://); repeatable")

	fs.StringVar(&serveFlags.APIListen, "api-listen", "", "serve the control API on this address")
	fs.StringVar(&serveFlags.APIBase, "api-base", "/api", "control API base path")
	fs.StringVar(&serveFlags.APIToken, "api-token", "", "bearer token required by the control API")
	fs.StringVar(&serveFlags.APIBasic, "api-basic", "", "basic credentials (user:pass) accepted by the control API")
	fs.StringVar(&serveFlags.APITLSCert, "api-tls-cert", "", "control API certificate file")
	fs.StringVar(&serveFlags.APITLSKey, "api-tls-key", "", "control API key file")
	fs.StringVar(&serveFlags.APITLSDir, "api-tls-dir", "", "directory holding tls.crt and tls.key")
	fs.BoolVar(&serveFlags.APITLSAutoGen, "api-tls-auto", false, "generate a self-signed pair in --api-tls-dir if missing")
	fs.StringVar(&serveFlags.APITLSMinVersion, "api-tls-min-version", "1.3", "minimum TLS version (1.2 or 1.3)")

	return root
}

func newLogger(g *GlobalFlags, console io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level:   g.LogLevel,
		Format:  g.LogFormat,
		Quiet:   g.Quiet,
		File:    logger.FileConfig{Path: g.SupervisorLog},
		Console: console,
	})
}

func (f *ServeFlags) tlsConfig() httpit.TLSConfig {
	return httpit.TLSConfig{
		Enabled:      f.APITLSCert != "" || f.APITLSDir != "",
		CertFile:     f.APITLSCert,
		KeyFile:      f.APITLSKey,
		Dir:          f.APITLSDir,
		AutoGenerate: f.APITLSAutoGen,
		MinVersion:   f.APITLSMinVersion,
	}
}

func runServe(cmd *cobra.Command, g *GlobalFlags, f *ServeFlags, args []string) error {
	cfg, err := loadServerConfig(cmd.Flags(), g.ConfigPath, args)
	if err != nil {
		return err
	}
	log, closer, err := newLogger(g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if cfg.FlushLog && cfg.Log == "" {
		log.Warn("--flush-log has no effect without --log")
	}

	srv, err := httpit.New(cfg, httpit.WithLogger(log), httpit.WithHistoryDSN(f.HistoryDSNs...))
	if err != nil {
		return err
	}
	// A detached webfsd outlives the CLI, so it is never stopped on the way out.
	if !cfg.Daemon {
		defer func() { _ = srv.Close() }()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listening := f.MetricsListen != "" || f.APIListen != ""
	if listening {
		if err := httpit.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	if f.MetricsListen != "" {
		if err := srv.CollectResources(ctx, prometheus.DefaultRegisterer, f.ResourceEvery); err != nil {
			log.Warn("resource metrics disabled", "err", err)
		}
		go func() {
			if err := httpit.ServeMetrics(ctx, f.MetricsListen); err != nil {
				log.Error("metrics server", "addr", f.MetricsListen, "err", err)
			}
		}()
		log.Info("metrics listening", "addr", f.MetricsListen)
	}

	if f.APIListen != "" {
		cs, err := httpit.NewControlServer(f.APIListen, srv, httpit.ControlOptions{
			BasePath: f.APIBase,
			Auth:     httpit.AuthConfig{Token: f.APIToken, Basic: f.APIBasic},
			Logger:   log,
		}, f.tlsConfig())
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cs.Shutdown(sctx)
		}()
		log.Info("control API listening", "addr", cs.Addr(), "base", f.APIBase, "tls", f.tlsConfig().Enabled)
	}

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	if cfg.Daemon {
		log.Info("webfsd detached", "pid", srv.PID(), "pid_file", cfg.PIDFile)
		if listening {
			<-ctx.Done()
		}
		return nil
	}
	log.Info("server stopped")
	return nil
}
