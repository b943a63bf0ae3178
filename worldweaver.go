package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/worldweaver/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "worldweaver",
		Usage:   "Collaborative storytelling bot for Farcaster",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: search ./worldweaver.toml, ./data/worldweaver.toml, ~/.worldweaver.toml)",
				EnvVars: []string{"WORLDWEAVER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE`, overriding existing ones",
			},
		},
		Before: cmd.LoadEnvFile,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.WebhookCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
