// Command objstream streams data into and out of platform objects.
//
// Usage:
//
//	objstream [global options] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: unexpected error
//   - 2: invalid arguments or configuration
//   - 3: platform rejected the request
//   - 4: platform unreachable or transfer failed
//   - 5: blob storage error
//   - 6: object is in the wrong state for the command
//   - 7: timed out or interrupted
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitAPIError       = 3
	ExitTransportError = 4
	ExitStorageError   = 5
	ExitInvalidState   = 6
	ExitInterrupted    = 7
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[objstream] Received interrupt, shutting down...")
		cancel()
	}()

	code := run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes the command line in args and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	err := a.cli().RunContext(ctx, args)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return exitCode(err, stderr)
}

func (a *app) cli() *cli.App {
	return &cli.App{
		Name:      "objstream",
		Usage:     "Stream data into and out of platform objects",
		Version:   version,
		Reader:    a.stdin,
		Writer:    a.stdout,
		ErrWriter: a.stderr,
		Flags:     globalFlags(),
		Commands: []*cli.Command{
			a.uploadCommand(),
			a.downloadCommand(),
			a.describeCommand(),
			a.closeCommand(),
			a.mirrorCommand(),
		},
		// Errors are mapped to exit codes by run.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}
