package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"portguard/rules"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the enforced configuration against a configuration file",
	Long: `Compare the configuration held in the pinned maps with the configuration
file and report every difference. The command fails when they differ.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		if configFile == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}

		color.New(color.Bold).Printf("Audit result for %s:\n", configFile)
		return rules.AuditRules(cfg, configFile)
	},
}
