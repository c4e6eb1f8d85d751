package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/objstream/pkg/remote"
)

func (a *app) describeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Print an object's description",
		ArgsUsage: "<object-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format: json, yaml", Value: "json"},
		},
		Action: a.action(a.describe),
	}
}

func (a *app) describe(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("describe: exactly one object id is required", ExitInvalidArgs)
	}

	obj, err := remote.Open(c.Context, a.client, c.Args().First(), a.remoteOptions()...)
	if err != nil {
		return err
	}
	desc, err := obj.Describe(c.Context)
	if err != nil {
		return err
	}

	switch c.String("format") {
	case "json":
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	case "yaml":
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(desc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return cli.Exit(fmt.Sprintf("describe: unknown format %q", c.String("format")), ExitInvalidArgs)
	}
}

func (a *app) closeCommand() *cli.Command {
	return &cli.Command{
		Name:      "close",
		Usage:     "Finalize an open object",
		ArgsUsage: "<object-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "Wait until the object is closed"},
			&cli.DurationFlag{Name: "timeout", Usage: "Give up waiting after this long (default: transfer.close_timeout)"},
		},
		Action: a.action(a.closeObject),
	}
}

func (a *app) closeObject(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("close: exactly one object id is required", ExitInvalidArgs)
	}

	opts := a.remoteOptions()
	if d := c.Duration("timeout"); d > 0 {
		opts = append(opts, remote.WithCloseTimeout(d))
	}
	obj, err := remote.Open(c.Context, a.client, c.Args().First(), opts...)
	if err != nil {
		return err
	}
	if err := obj.Close(c.Context, c.Bool("wait")); err != nil {
		return err
	}

	a.logger.Info("close requested", zap.String("id", obj.ID()), zap.String("state", obj.State().String()))
	fmt.Fprintln(a.stdout, obj.State())
	return nil
}
