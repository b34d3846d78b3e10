package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leomancini/ai-phone-firmware/pkg/config"
)

const flagSchemaOnly = "schema-only"

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a BridgeConfig manifest",
		Long: `Validates a BridgeConfig manifest against its JSON schema and then checks
the constraints the schema cannot express, such as reconnect delays and the
capture command's {file} placeholder.

Examples:
  voicebridge validate bridge.yaml
  voicebridge validate bridge.yaml --schema-only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := v.GetString(flagConfig)
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("file path required")
			}
			schemaOnly, _ := cmd.Flags().GetBool(flagSchemaOnly)
			return runValidate(cmd, path, schemaOnly)
		},
	}
	cmd.Flags().Bool(flagSchemaOnly, false, "Only validate schema, skip business logic checks")
	return cmd
}

func runValidate(cmd *cobra.Command, path string, schemaOnly bool) error {
	out := cmd.OutOrStdout()
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	result, err := config.ValidateWithSchema(data)
	if err != nil {
		return err
	}
	if !result.Valid {
		fmt.Fprintf(out, "❌ Schema validation failed for %s:\n", filepath.Base(path))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - %s\n", e.Error())
		}
		return fmt.Errorf("%d schema errors", len(result.Errors))
	}
	fmt.Fprintln(out, "✓ Schema validation passed")

	if !schemaOnly {
		var cfg config.BridgeConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.ApplyDefaults()
		validator := config.NewConfigValidator(&cfg)
		if err := validator.Validate(); err != nil {
			return err
		}
		for _, w := range validator.GetWarnings() {
			fmt.Fprintf(out, "⚠️  %s\n", w)
		}
		fmt.Fprintln(out, "✓ Business logic validation passed")
	}

	fmt.Fprintf(out, "\n✅ %s is valid\n", filepath.Base(path))
	return nil
}
