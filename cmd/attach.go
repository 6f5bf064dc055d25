package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"portguard/config"
	"portguard/fwebpf"
	"portguard/rules"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach a filter",
	Long: `Attach the packet filter to a network interface or the socket filter to a
cgroup. Programs, links and maps are pinned to the BPF filesystem for
persistence across program restarts. When --config is given, its values are
written to the filter right after attaching.`,
}

var attachPacketCmd = &cobra.Command{
	Use:   "packet",
	Short: "Attach the XDP port filter to a network interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interface") {
			cfg.Packet.Interface, _ = cmd.Flags().GetString("interface")
		}
		if cmd.Flags().Changed("xdp-mode") {
			cfg.Packet.XDPMode, _ = cmd.Flags().GetString("xdp-mode")
		}
		mode, err := fwebpf.ParseXDPMode(cfg.Packet.XDPMode)
		if err != nil {
			return err
		}

		if err := ensureBPFFS(cfg.BPFFS); err != nil {
			return err
		}
		res, err := fwebpf.AttachPacketFilter(cfg.PinDir(), cfg.Packet.Interface, mode)
		if err != nil {
			return fmt.Errorf("attaching packet filter: %w", err)
		}
		if res.Netlink {
			info("XDP links unsupported, attached %s program to %s with netlink\n", res.Mode, res.Interface)
		}
		success("Packet filter attached to %s (%s mode) and pinned to %s\n", res.Interface, res.Mode, cfg.PinDir())
		return applyIfConfigured(cmd, cfg)
	},
}

var attachSocketCmd = &cobra.Command{
	Use:   "socket",
	Short: "Attach the connect and bind filters to a cgroup",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("cgroup") {
			cfg.Socket.Cgroup, _ = cmd.Flags().GetString("cgroup")
		}

		if err := ensureBPFFS(cfg.BPFFS); err != nil {
			return err
		}
		if err := fwebpf.AttachSocketFilter(cfg.PinDir(), cfg.Socket.Cgroup); err != nil {
			return fmt.Errorf("attaching socket filter: %w", err)
		}
		success("Socket filter attached to cgroup %s and pinned to %s\n", cfg.Socket.Cgroup, cfg.PinDir())
		return applyIfConfigured(cmd, cfg)
	},
}

func applyIfConfigured(cmd *cobra.Command, cfg *config.Config) error {
	if path, _ := cmd.Flags().GetString("config"); path == "" {
		return nil
	}
	return rules.ApplyConfig(cfg)
}

func ensureBPFFS(root string) error {
	mounted, err := fwebpf.EnsureBPFFilesystem(root)
	if err != nil {
		return err
	}
	if mounted {
		info("Mounted BPF filesystem at %s\n", root)
	}
	return nil
}

func init() {
	attachPacketCmd.Flags().StringP("interface", "i", "", "Network interface (default lo)")
	attachPacketCmd.Flags().String("xdp-mode", "", "XDP attach mode: generic, driver or offload (default generic)")
	attachSocketCmd.Flags().String("cgroup", "", "cgroup v2 path (default /sys/fs/cgroup)")

	attachCmd.AddCommand(attachPacketCmd)
	attachCmd.AddCommand(attachSocketCmd)
}
