package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/expharness/internal/config"
	"github.com/psantana5/expharness/internal/harness"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Prints the configuration a run would use after merging the config file,
EXPHARNESS_* environment variables and defaults.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "Output format: yaml, json")
}

type effectiveConfig struct {
	Dir            string `json:"dir" yaml:"dir"`
	harness.Config `json:",inline" yaml:",inline"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Harness(v)
	if err != nil {
		return err
	}
	return outputConfig(cmd.OutOrStdout(), effectiveConfig{Dir: config.Dir(v), Config: *cfg}, configOutput)
}

func outputConfig(w io.Writer, cfg effectiveConfig, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)

	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(cfg)

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
