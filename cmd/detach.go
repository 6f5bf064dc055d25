package cmd

import (
	"github.com/spf13/cobra"

	"portguard/fwebpf"
)

var detachCmd = &cobra.Command{
	Use:   "detach",
	Short: "Detach a filter",
	Long: `Detach the packet filter from a network interface or the socket filter from
its cgroup. The pinned maps are removed once no filter uses them.`,
}

var detachPacketCmd = &cobra.Command{
	Use:   "packet",
	Short: "Detach the XDP port filter from a network interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interface") {
			cfg.Packet.Interface, _ = cmd.Flags().GetString("interface")
		}
		if err := fwebpf.DetachPacketFilter(cfg.PinDir(), cfg.Packet.Interface); err != nil {
			return err
		}
		success("Packet filter detached from %s\n", cfg.Packet.Interface)
		return nil
	},
}

var detachSocketCmd = &cobra.Command{
	Use:   "socket",
	Short: "Detach the connect and bind filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		if err := fwebpf.DetachSocketFilter(cfg.PinDir()); err != nil {
			return err
		}
		success("Socket filter detached\n")
		return nil
	},
}

func init() {
	detachPacketCmd.Flags().StringP("interface", "i", "", "Network interface (default lo)")

	detachCmd.AddCommand(detachPacketCmd)
	detachCmd.AddCommand(detachSocketCmd)
}
