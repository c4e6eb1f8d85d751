package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ligustah/objstream/internal/config"
	"github.com/ligustah/objstream/internal/log"
	"github.com/ligustah/objstream/internal/progress"
	"github.com/ligustah/objstream/pkg/remote"
	"github.com/ligustah/objstream/pkg/transport"
)

// app carries the state shared by all commands once setup has run.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	logger *zap.Logger
	client *transport.Client
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			Value:   config.DefaultPath,
		},
		&cli.StringFlag{Name: "api-server", Usage: "Platform API base URL"},
		&cli.StringFlag{Name: "token", Usage: "Platform API token"},
		&cli.StringFlag{Name: "project", Usage: "Project new objects are created in"},
		&cli.BoolFlag{Name: "progress", Usage: "Show transfer progress on stderr"},
		&cli.BoolFlag{Name: "compression", Usage: "Request compressed API responses"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
		&cli.StringFlag{Name: "log-format", Usage: "Log format: console, json"},
	}
}

// setup loads configuration from the file, the environment and the global
// flags, in increasing precedence, and builds the logger and API client.
func (a *app) setup(c *cli.Context) error {
	cfg, err := config.LoadFromFile(c.String("config"))
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !c.IsSet("config"):
		cfg = config.Default()
	default:
		return cli.Exit(err.Error(), ExitInvalidArgs)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return cli.Exit(err.Error(), ExitInvalidArgs)
	}
	cfg = cfg.Merge(config.Config{
		APIServer:   c.String("api-server"),
		Token:       c.String("token"),
		Project:     c.String("project"),
		Progress:    c.Bool("progress"),
		Compression: c.Bool("compression"),
		Log: config.LogConfig{
			Level:  c.String("log-level"),
			Format: c.String("log-format"),
		},
	})
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), ExitInvalidArgs)
	}

	logger, err := log.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return cli.Exit(err.Error(), ExitInvalidArgs)
	}

	a.cfg = cfg
	a.logger = logger
	a.client = transport.NewClient(cfg.TransportOptions(logger))
	return nil
}

// action wraps fn so that it runs after setup.
func (a *app) action(fn cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := a.setup(c); err != nil {
			return err
		}
		return fn(c)
	}
}

// remoteOptions returns the configured object options plus extra.
func (a *app) remoteOptions(extra ...remote.Option) []remote.Option {
	return append(a.cfg.RemoteOptions(a.logger), extra...)
}

// newReporter returns a reporter writing to stderr, or nil when progress
// output is disabled.
func (a *app) newReporter(opts progress.Options) *progress.Reporter {
	if !a.cfg.Progress {
		return nil
	}
	opts.Output = a.stderr
	return progress.NewReporter(opts)
}

// exitCode prints err and maps it to a process exit code.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitSuccess
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		return code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	var (
		usage     *remote.UsageError
		apiErr    *transport.APIError
		httpErr   *transport.HTTPError
		transErr  *transport.TransportError
		decodeErr *transport.DecodeError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	case errors.As(err, &usage):
		return ExitInvalidState
	case errors.As(err, &apiErr):
		if apiErr.Name == transport.ErrNameInvalidState {
			return ExitInvalidState
		}
		return ExitAPIError
	case errors.As(err, new(storageError)):
		return ExitStorageError
	case errors.As(err, &httpErr), errors.As(err, &transErr), errors.As(err, &decodeErr):
		return ExitTransportError
	}
	return ExitGeneralError
}

// storageError marks failures of the blob storage side of a mirror.
type storageError struct {
	err error
}

func (e storageError) Error() string {
	return e.err.Error()
}

func (e storageError) Unwrap() error {
	return e.err
}
