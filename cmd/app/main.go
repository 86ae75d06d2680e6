// Package main provides the entry point for the keynanny daemon and its
// client commands.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/allisson/go-env"
	"github.com/urfave/cli/v3"

	"github.com/mrscotty/keynanny/cmd/app/commands"
)

const version = "1.0.0"

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   env.GetString("KEYNANNY_CONFIG", "/etc/keynanny/keynanny.conf"),
		Usage:   "Path to the configuration file",
	}
	socketFlag := &cli.StringFlag{
		Name:    "socketfile",
		Aliases: []string{"s"},
		Value:   "/var/run/keynanny/keynanny.sock",
		Usage:   "Path to the daemon socket",
	}

	cmd := &cli.Command{
		Name:    "keynanny",
		Usage:   "Local secret-keeping daemon and client",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the daemon",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:    "debug",
						Aliases: []string{"d"},
						Usage:   "Force debug logging",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunServer(ctx, cmd.String("config"), cmd.Bool("debug"))
				},
			},
			{
				Name:  "dumpconfig",
				Usage: "Print the fully resolved configuration",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunDumpConfig(cmd.String("config"))
				},
			},
			{
				Name:      "get",
				Usage:     "Fetch one secret and print its value",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{socketFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunGet(cmd.String("socketfile"), cmd.Args().First())
				},
			},
			{
				Name:      "set",
				Usage:     "Store stdin as a secret value",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{socketFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunSet(cmd.String("socketfile"), cmd.Args().First())
				},
			},
			{
				Name:      "template",
				Usage:     "Render a template with daemon-held secrets",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					socketFlag,
					&cli.StringSliceFlag{
						Name:    "variable",
						Aliases: []string{"v"},
						Usage:   "Secret name to pre-seed as a template variable (repeatable)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunTemplate(
						cmd.String("socketfile"),
						cmd.Args().First(),
						cmd.StringSlice("variable"),
					)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
