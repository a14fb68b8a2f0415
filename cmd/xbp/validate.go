package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xbp-monitoring/xbp/internal/config"
)

// validateCmd validates a config file without starting the agent.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an xbp configuration file without starting the agent.

This command parses the YAML, applies ${{ env.NAME }} substitution, and
validates every probe and story definition. Unlike serve, it never
creates a default config file. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  xbp validate -f xbp.yaml
  xbp validate --file /etc/xbp/xbp.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("file", "f", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cfg, err := config.Parse(config.SubstituteEnv(data))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	totalSteps := 0
	for _, s := range cfg.Stories {
		totalSteps += len(s.Steps)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Probes:  %d\n", len(cfg.Probes))
	fmt.Printf("  Stories: %d (%d steps total)\n", len(cfg.Stories), totalSteps)

	return nil
}
