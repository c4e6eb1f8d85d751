package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/objstream/internal/mirror"
	"github.com/ligustah/objstream/internal/progress"
	"github.com/ligustah/objstream/pkg/remote"
)

func mirrorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "bucket", Usage: "Bucket URL, e.g. s3://name?region=us-east-1 (required)"},
		&cli.StringFlag{Name: "key", Usage: "Blob key (required)"},
	}
}

func (a *app) mirrorCommand() *cli.Command {
	return &cli.Command{
		Name:  "mirror",
		Usage: "Copy objects to and from blob storage",
		Subcommands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "Copy a closed object into a bucket",
				ArgsUsage: "<object-id>",
				Flags:     mirrorFlags(),
				Action:    a.action(a.mirrorExport),
			},
			{
				Name:  "import",
				Usage: "Copy a blob into a new object",
				Flags: append(mirrorFlags(),
					&cli.StringFlag{Name: "name", Usage: "Object name (default: the key)"},
					&cli.BoolFlag{Name: "wait", Usage: "Wait until the object is closed"},
				),
				Action: a.action(a.mirrorImport),
			},
		},
	}
}

func (a *app) openBucket(c *cli.Context) (*blob.Bucket, error) {
	if c.String("bucket") == "" || c.String("key") == "" {
		return nil, cli.Exit("mirror: --bucket and --key are required", ExitInvalidArgs)
	}
	bucket, err := blob.OpenBucket(c.Context, c.String("bucket"))
	if err != nil {
		return nil, storageError{fmt.Errorf("open bucket: %w", err)}
	}
	return bucket, nil
}

func (a *app) mirrorExport(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("mirror export: exactly one object id is required", ExitInvalidArgs)
	}
	id := c.Args().First()

	bucket, err := a.openBucket(c)
	if err != nil {
		return err
	}
	defer bucket.Close()

	opts := mirror.Options{Remote: a.remoteOptions(), Logger: a.logger}
	if reporter := a.newReporter(progress.Options{
		Operation:   "Exporting",
		Name:        id,
		ChunkSize:   a.cfg.Transfer.ReadChunkSize,
		Concurrency: a.cfg.Transfer.ReadConcurrency,
	}); reporter != nil {
		opts.Remote = append(opts.Remote, remote.WithProgress(reporter.Add))
		reporter.Start()
		defer reporter.Stop()
	}

	n, err := mirror.Export(c.Context, a.client, id, bucket, c.String("key"), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s %d\n", c.String("key"), n)
	return nil
}

func (a *app) mirrorImport(c *cli.Context) error {
	bucket, err := a.openBucket(c)
	if err != nil {
		return err
	}
	defer bucket.Close()

	opts := mirror.Options{
		Remote:   a.remoteOptions(),
		PartSize: a.cfg.Transfer.PartSize,
		Block:    c.Bool("wait"),
		Logger:   a.logger,
	}
	if name := c.String("name"); name != "" {
		opts.Remote = append(opts.Remote, remote.WithName(name))
	}
	if reporter := a.newReporter(progress.Options{
		Operation:   "Importing",
		Name:        c.String("key"),
		ChunkSize:   a.cfg.Transfer.PartSize,
		Concurrency: a.cfg.Transfer.UploadConcurrency,
	}); reporter != nil {
		opts.Remote = append(opts.Remote, remote.WithProgress(reporter.Add))
		reporter.Start()
		defer reporter.Stop()
	}

	obj, err := mirror.Import(c.Context, a.client, bucket, c.String("key"), opts)
	if errors.Is(err, mirror.ErrNotFound) {
		return storageError{err}
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, obj.ID())
	return nil
}
