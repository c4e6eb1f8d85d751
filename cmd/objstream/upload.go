package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ligustah/objstream/internal/progress"
	"github.com/ligustah/objstream/pkg/remote"
)

func (a *app) uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a local file (or stdin) into a new object",
		ArgsUsage: "<path|->",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Object name (default: the file name)"},
			&cli.StringFlag{Name: "media", Usage: "Media type of the object (default: detected from content)"},
			&cli.StringFlag{Name: "part-size", Usage: "Upload part size, e.g. 64MiB"},
			&cli.IntFlag{Name: "upload-concurrency", Usage: "Parallel part uploads"},
			&cli.BoolFlag{Name: "wait", Usage: "Wait until the object is closed"},
		},
		Action: a.action(a.upload),
	}
}

func (a *app) upload(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("upload: exactly one path is required (use - for stdin)", ExitInvalidArgs)
	}
	path := c.Args().First()

	partSize := a.cfg.Transfer.PartSize
	if v := c.String("part-size"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return cli.Exit(fmt.Sprintf("upload: %v", err), ExitInvalidArgs)
		}
		partSize = size
	}
	if partSize < remote.MinPartSize {
		return cli.Exit(fmt.Sprintf("upload: part size must be at least %s", progress.FormatBytes(remote.MinPartSize)), ExitInvalidArgs)
	}

	var (
		src   io.Reader = a.stdin
		name            = c.String("name")
		media           = c.String("media")
		size  int64
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("upload: %v", err), ExitInvalidArgs)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return cli.Exit(fmt.Sprintf("upload: %v", err), ExitInvalidArgs)
		}
		src, size = f, info.Size()
		if name == "" {
			name = info.Name()
		}
		if media == "" {
			media = detectMedia(f)
		}
	}
	partSize = remote.PartSizeFor(size, partSize)

	concurrency := a.cfg.Transfer.UploadConcurrency
	if n := c.Int("upload-concurrency"); n > 0 {
		concurrency = n
	}

	opts := a.remoteOptions(
		remote.WithName(name),
		remote.WithMedia(media),
		remote.WithPartSize(partSize),
		remote.WithUploadConcurrency(concurrency),
	)
	reporter := a.newReporter(progress.Options{
		Operation:   "Uploading",
		Name:        path,
		TotalSize:   size,
		ChunkSize:   partSize,
		Concurrency: concurrency,
	})
	if reporter != nil {
		opts = append(opts, remote.WithProgress(reporter.Add))
		reporter.Start()
		defer reporter.Stop()
	}

	obj, err := remote.New(c.Context, a.client, opts...)
	if err != nil {
		return err
	}

	n, err := io.Copy(obj, src)
	if err != nil {
		return fmt.Errorf("upload %s: %w", obj.ID(), err)
	}
	if err := obj.Close(c.Context, c.Bool("wait")); err != nil {
		return fmt.Errorf("close %s: %w", obj.ID(), err)
	}

	a.logger.Info("upload complete",
		zap.String("id", obj.ID()),
		zap.Int64("bytes", n),
		zap.String("state", obj.State().String()),
	)
	fmt.Fprintln(a.stdout, obj.ID())
	return nil
}

// detectMedia sniffs the media type from the start of f and rewinds it.
func detectMedia(f *os.File) string {
	mt, err := mimetype.DetectReader(f)
	if _, serr := f.Seek(0, io.SeekStart); serr != nil || err != nil {
		return ""
	}
	return mt.String()
}
