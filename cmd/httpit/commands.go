package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/loykin/httpit"
	"github.com/loykin/httpit/internal/auth"
	"github.com/loykin/httpit/internal/detector"
	"github.com/loykin/httpit/internal/history"
	"github.com/loykin/httpit/internal/history/factory"
	"github.com/loykin/httpit/internal/process"
	"github.com/loykin/httpit/pkg/client"
)

var errNoTarget = errors.New("either --api-url or --pid-file is required")

func addAPIFlags(fs *pflag.FlagSet, f *APIFlags) {
	fs.StringVar(&f.APIUrl, "api-url", "", "control API URL (e.g. http://127.0.0.1:9090/api)")
	fs.DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	fs.StringVar(&f.APIToken, "api-token", "", "bearer token for the control API")
	fs.StringVar(&f.APIBasic, "api-basic", "", "basic credentials (user:pass) for the control API")
	fs.StringVar(&f.APICACert, "api-ca", "", "CA certificate used to verify the control API")
	fs.BoolVar(&f.Insecure, "insecure", false, "skip TLS verification of the control API")
}

func (f APIFlags) client() (*client.Client, error) {
	cfg := client.Config{
		BaseURL:   f.APIUrl,
		Timeout:   f.APITimeout,
		Token:     f.APIToken,
		BasicAuth: f.APIBasic,
		Insecure:  f.Insecure,
	}
	if f.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.APICACert}
	}
	return client.New(cfg)
}

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a supervised webfsd",
		Long: `Show the state of webfsd, either through the control API of a running
httpit or by probing the PID file of a detached webfsd.

Examples:
  httpit status --api-url=http://127.0.0.1:9090/api
  httpit status --pid-file=/run/webfsd.pid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd.Flags(), &flags.APIFlags)
	cmd.Flags().StringVarP(&flags.PIDFile, "pid-file", "k", "", "PID file written by a detached webfsd")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand() *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a supervised or detached webfsd",
		Long: `Stop webfsd through the control API, or signal the process named by
the PID file of a detached webfsd (SIGTERM, then SIGKILL after --wait).

Examples:
  httpit stop --api-url=http://127.0.0.1:9090/api
  httpit stop --pid-file=/run/webfsd.pid --wait=5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd.Flags(), &flags.APIFlags)
	cmd.Flags().StringVarP(&flags.PIDFile, "pid-file", "k", "", "PID file written by a detached webfsd")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 3*time.Second, "time to wait for graceful shutdown")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start webfsd through the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), cmd.OutOrStdout(), *flags, (*client.Client).Start)
		},
	}
	addAPIFlags(cmd.Flags(), flags)
	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand() *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart webfsd through the control API",
		Long: `Stop webfsd if it is running and start it again with the same options.
A stopped webfsd is simply started.

Examples:
  httpit restart --api-url=http://127.0.0.1:9090/api --api-token=$TOKEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), cmd.OutOrStdout(), *flags, (*client.Client).Restart)
		},
	}
	addAPIFlags(cmd.Flags(), flags)
	return cmd
}

// createConfigCommand creates the config subcommand
func createConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [path|port] [port]",
		Short: "Print the effective configuration as YAML",
		Long: `Resolve the configuration exactly like the serve command does
(defaults, --config file, HTTPIT_* environment, positional arguments, flags)
and print it. The auth secret is masked. Nothing is validated or started.

Examples:
  httpit config . 3000 --no-listing
  HTTPIT_PORT=9000 httpit config --config=httpit.toml`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(cmd.Flags(), globalFlags.ConfigPath, args)
			if err != nil {
				return err
			}
			b, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	addServerFlags(cmd.Flags())
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand() *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded start/stop/exit events",
		Long: `List lifecycle events recorded with --history-dsn, newest first.
SQLite and PostgreSQL stores can be read back.

Examples:
  httpit history --dsn=sqlite:///var/lib/httpit/history.db
  httpit history --dsn=postgres://user:pass@db/httpit --name=webfsd-8080 --since=24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.DSN, "dsn", "", "history store (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "only events of this instance (e.g. webfsd-8000)")
	cmd.Flags().StringVar(&flags.RunID, "run-id", "", "only events of this run")
	cmd.Flags().DurationVar(&flags.Since, "since", 0, "only events newer than this age")
	cmd.Flags().IntVar(&flags.Limit, "limit", history.DefaultLimit, "maximum number of events")
	if err := cmd.MarkFlagRequired("dsn"); err != nil {
		panic(err) // This should never happen during setup
	}
	return cmd
}

// createHashPasswordCommand creates the hash-password subcommand
func createHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for --api-basic",
		Long: `Hash a password so that the control API credentials can be stored as
user:<hash> instead of plain text. Without an argument the password is read
from the first line of stdin.

Examples:
  httpit hash-password 'pa55'
  httpit . --api-listen :9090 --api-basic "admin:$(httpit hash-password 'pa55')"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pass string
			if len(args) == 1 {
				pass = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				pass = strings.TrimRight(line, "\r\n")
			}
			if pass == "" {
				return errors.New("empty password")
			}
			hash, err := auth.HashPassword(pass)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

// pidFileStatus is reported for a detached webfsd.
type pidFileStatus struct {
	PIDFile string `json:"pid_file"`
	PID     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

func probePIDFile(path string) pidFileStatus {
	st := pidFileStatus{PIDFile: path}
	d := detector.PIDFileDetector{PIDFile: path}
	pid, err := d.PID()
	if err != nil {
		if !os.IsNotExist(err) {
			st.Error = err.Error()
		}
		return st
	}
	st.PID = pid
	alive, err := d.Alive()
	if err != nil {
		st.Error = err.Error()
	}
	st.Running = alive
	return st
}

func runStatus(ctx context.Context, out io.Writer, f StatusFlags) error {
	switch {
	case f.APIUrl != "":
		c, err := f.client()
		if err != nil {
			return err
		}
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, st)
	case f.PIDFile != "":
		return printJSON(out, probePIDFile(f.PIDFile))
	}
	return errNoTarget
}

func runStop(ctx context.Context, out io.Writer, f StopFlags) error {
	switch {
	case f.APIUrl != "":
		return runAction(ctx, out, f.APIFlags, (*client.Client).Stop)
	case f.PIDFile != "":
		st := probePIDFile(f.PIDFile)
		if !st.Running {
			return fmt.Errorf("%w: %s", httpit.ErrNotRunning, f.PIDFile)
		}
		if err := process.StopPID(st.PID, f.Wait); err != nil {
			return err
		}
		// webfsd removes its PID file on a clean exit, but not after SIGKILL
		if err := os.Remove(f.PIDFile); err != nil && !os.IsNotExist(err) {
			return err
		}
		return printJSON(out, pidFileStatus{PIDFile: f.PIDFile, PID: st.PID})
	}
	return errNoTarget
}

type action func(*client.Client, context.Context) (client.Status, error)

func runAction(ctx context.Context, out io.Writer, f APIFlags, do action) error {
	if f.APIUrl == "" {
		return errors.New("--api-url is required")
	}
	c, err := f.client()
	if err != nil {
		return err
	}
	st, err := do(c, ctx)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func runHistory(ctx context.Context, out io.Writer, f HistoryFlags) error {
	r, err := factory.OpenReader(ctx, f.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	filter := history.Filter{Name: f.Name, RunID: f.RunID, Limit: f.Limit}
	if f.Since > 0 {
		filter.Since = time.Now().Add(-f.Since)
	}
	events, err := r.Query(ctx, filter)
	if err != nil {
		return err
	}
	if events == nil {
		events = []history.Event{}
	}
	return printJSON(out, events)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
