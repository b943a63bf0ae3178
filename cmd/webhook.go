package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/worldweaver/internal/provider_output/neynar"
)

// WebhookCommand returns the command managing Neynar webhooks
func WebhookCommand() *cli.Command {
	return &cli.Command{
		Name:  "webhook",
		Usage: "Manage Neynar webhooks",
		Subcommands: []*cli.Command{
			{
				Name:  "setup",
				Usage: "Register the webhook delivering mentions of and replies to the bot",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Webhook name shown in the Neynar dashboard",
						Value: "worldweaver",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "Target URL (overrides neynar.webhook_url)",
					},
				},
				Action: runWebhookSetup,
			},
		},
	}
}

func runWebhookSetup(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	if url := c.String("url"); url != "" {
		cfg.Neynar.WebhookURL = url
	}

	client := neynar.NewAPIClient(cfg.Neynar)
	id, err := client.SetupMentionWebhook(c.Context, c.String("name"))
	if err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}

	fmt.Printf("Registered webhook %s -> %s\n", id, cfg.Neynar.WebhookURL)
	return nil
}
