package cmd

import (
	"fmt"
	"sort"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/worldweaver/internal/config"
	"github.com/worldweaver/internal/llm"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are empty
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

type setting struct {
	key    string
	value  string
	secret bool
}

// CheckRequiredConfig reports which credentials and endpoints are set,
// masking secrets.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	required := []setting{
		{"bot.fid", cfg.Bot.FID, false},
		{"bot.signer_uuid", cfg.Bot.SignerUUID, true},
		{"neynar.api_key", cfg.Neynar.APIKey, true},
		{"llm.model", cfg.LLM.Model, false},
	}
	if cfg.LLM.Provider != llm.ProviderOllama {
		required = append(required, setting{"llm.api_key", cfg.LLM.APIKey, true})
	}

	for _, r := range required {
		switch {
		case r.value == "":
			result.Missing = append(result.Missing, r.key)
		case r.secret:
			result.Present[r.key] = maskSecret(r.value)
		default:
			result.Present[r.key] = r.value
		}
	}

	// Optional but good to check
	if cfg.Neynar.WebhookURL != "" {
		result.Present["neynar.webhook_url"] = cfg.Neynar.WebhookURL
	} else {
		result.Warnings = append(result.Warnings, "neynar.webhook_url is empty: co-author subscriptions cannot be registered")
	}
	if cfg.Queue.Enabled() {
		result.Present["queue.database_url"] = maskSecret(cfg.Queue.DatabaseURL)
	}
	if cfg.Dedup.Retention == 0 {
		result.Warnings = append(result.Warnings, "dedup.retention is 0: handled event IDs are kept until restart")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		fmt.Println("✓ Configured settings:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads the file named by --env-file, overwriting existing
// variables.
func LoadEnvFile(c *cli.Context) error {
	filename := c.String("env-file")
	if filename == "" {
		return nil
	}
	if err := godotenv.Overload(filename); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", filename, err)
	}
	return nil
}
