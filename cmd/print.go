package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"portguard/rules"
)

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the enforced configuration",
	Long: `Display the attached filters and the configuration they currently enforce.
With --interface the XDP attachment state of that interface is shown too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		iface, _ := cmd.Flags().GetString("interface")

		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			st, err := rules.ReadState(cfg.PinDir())
			if err != nil {
				return err
			}
			return rules.WriteYAML(os.Stdout, st)
		}
		return rules.PrintRules(cfg.PinDir(), iface)
	},
}

func init() {
	printCmd.Flags().StringP("interface", "i", "", "Network interface to report XDP state for")
	printCmd.Flags().Bool("yaml", false, "Print as YAML")
}
