package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"portguard/filter"
	"portguard/fwebpf"
)

var (
	checkSrcPort portValue
	checkDstPort portValue
	checkPort    portValue
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show what the attached filters would decide",
	Long: `Evaluate a packet or a socket operation against the configuration held in
the pinned maps, without sending anything.`,
}

var checkPacketCmd = &cobra.Command{
	Use:   "packet",
	Short: "Evaluate a TCP packet against the packet filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		proto, _ := cmd.Flags().GetUint8("protocol")

		var rule filter.PortRule
		ports, err := fwebpf.OpenPortMap(cfg.PinDir())
		if err != nil {
			return err
		}
		defer ports.Close()
		if r, ok := ports.Load(); ok {
			rule = r
		}

		v := filter.DecidePacket(filter.HeaderView{
			IPProtocol:    proto,
			TCPSourcePort: filter.Htons(uint16(checkSrcPort)),
			TCPDestPort:   filter.Htons(uint16(checkDstPort)),
		}, rule)
		printVerdict(fmt.Sprintf("packet %d -> %d", checkSrcPort, checkDstPort), v)
		return nil
	},
}

var checkSocketCmd = &cobra.Command{
	Use:   "socket",
	Short: "Evaluate a connect or bind against the socket filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		process, _ := cmd.Flags().GetString("process")
		op, _ := cmd.Flags().GetString("op")

		hook := filter.HookConnect4
		switch op {
		case "connect":
		case "bind":
			hook = filter.HookBind4
		default:
			return fmt.Errorf("invalid operation %q (want connect or bind)", op)
		}

		procs, err := fwebpf.OpenProcessMap(cfg.PinDir())
		if err != nil {
			return err
		}
		defer procs.Close()

		h := filter.SockAddrHook{Hook: hook, Rules: procs}
		v := h.Decide(&filter.SockAddr{
			UserPort: filter.UserPortRaw(uint16(checkPort)),
			Comm:     filter.Comm(process),
		})
		printVerdict(fmt.Sprintf("%s %s to port %d", process, op, checkPort), v)
		return nil
	},
}

func printVerdict(what string, v filter.Verdict) {
	if v.Dropped() {
		errPrint(color.Output, "%s: %s\n", what, v)
		return
	}
	success("%s: %s\n", what, v)
}

func init() {
	checkPacketCmd.Flags().Var(&checkSrcPort, "src-port", "TCP source port")
	checkPacketCmd.Flags().Var(&checkDstPort, "dst-port", "TCP destination port")
	checkPacketCmd.Flags().Uint8("protocol", unix.IPPROTO_TCP, "IP protocol number")

	checkSocketCmd.Flags().String("process", "", "Process name")
	checkSocketCmd.Flags().Var(&checkPort, "port", "Requested port")
	checkSocketCmd.Flags().String("op", "connect", "Operation: connect or bind")
	checkSocketCmd.MarkFlagRequired("process")

	checkCmd.AddCommand(checkPacketCmd)
	checkCmd.AddCommand(checkSocketCmd)
}
