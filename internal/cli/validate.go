package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateFlags overrides

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and scenario",
	Long:  `Load the configuration and the scenario, check them and print the effective configuration.`,
	RunE:  runValidate,
}

func init() {
	addSimulationFlags(validateCmd, &validateFlags)
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, validateFlags)
	if err != nil {
		return err
	}
	file, err := loadScenario(cfg)
	if err != nil {
		return err
	}

	agents := 0
	for _, a := range file.Agents {
		agents += a.Count
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cfg.String())
	fmt.Fprintf(out, "Scenario: %d agents, %d flow models, seed %d\n", agents, len(file.Flows), file.Seed)
	fmt.Fprintln(out, "Configuration OK")
	return nil
}
