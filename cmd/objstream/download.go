package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ligustah/objstream/internal/progress"
	"github.com/ligustah/objstream/pkg/remote"
)

func (a *app) downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a closed object to a local file (or stdout)",
		ArgsUsage: "<object-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path, - for stdout", Value: "-"},
			&cli.Int64Flag{Name: "offset", Usage: "Start reading at this byte offset"},
			&cli.StringFlag{Name: "chunk-size", Usage: "Ranged read size, e.g. 16MiB"},
			&cli.IntFlag{Name: "read-concurrency", Usage: "Parallel ranged reads"},
		},
		Action: a.action(a.download),
	}
}

func (a *app) download(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("download: exactly one object id is required", ExitInvalidArgs)
	}
	id := c.Args().First()

	chunkSize := a.cfg.Transfer.ReadChunkSize
	if v := c.String("chunk-size"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil || size <= 0 {
			return cli.Exit(fmt.Sprintf("download: invalid chunk size %q", v), ExitInvalidArgs)
		}
		chunkSize = size
	}
	concurrency := a.cfg.Transfer.ReadConcurrency
	if n := c.Int("read-concurrency"); n > 0 {
		concurrency = n
	}

	opts := a.remoteOptions(
		remote.WithReadChunkSize(chunkSize),
		remote.WithReadConcurrency(concurrency),
	)
	reporter := a.newReporter(progress.Options{
		Operation:   "Downloading",
		Name:        id,
		ChunkSize:   chunkSize,
		Concurrency: concurrency,
	})
	if reporter != nil {
		opts = append(opts, remote.WithProgress(reporter.Add))
	}

	obj, err := remote.Open(c.Context, a.client, id, opts...)
	if err != nil {
		return err
	}
	defer obj.CloseReader()

	if offset := c.Int64("offset"); offset != 0 {
		if _, err := obj.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}

	out := a.stdout
	if path := c.String("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("download: %v", err), ExitInvalidArgs)
		}
		defer f.Close()
		out = f
	}

	if reporter != nil {
		reporter.SetTotalSize(obj.Size() - obj.Tell())
		reporter.Start()
		defer reporter.Stop()
	}

	n, err := io.Copy(out, obj)
	if err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	a.logger.Info("download complete", zap.String("id", id), zap.Int64("bytes", n))
	return nil
}
