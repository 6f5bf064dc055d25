package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"portguard/config"
	"portguard/rules"
)

// Initialize colored output
var (
	info     = color.New(color.FgBlue).PrintfFunc()
	success  = color.New(color.FgGreen).PrintfFunc()
	errPrint = color.New(color.FgRed).FprintfFunc()
)

var rootCmd = &cobra.Command{
	Use:   "portguard",
	Short: "eBPF port filter management tool",
	Long: `portguard drops TCP traffic on one configured port with an XDP program,
and restricts one process to a single port with cgroup connect and bind hooks.

Programs and their configuration maps are pinned to the BPF filesystem so the
filters keep running after this tool exits. Use 'load' to change the
configuration of attached filters and 'trace' to watch what they drop.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("bpffs", "", "BPF filesystem mount point (default /sys/fs/bpf)")

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(printCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(replayCmd)
}

// settings loads --config when given, or the defaults, and applies the
// persistent flag overrides.
func settings(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if bpffs, _ := cmd.Flags().GetString("bpffs"); bpffs != "" {
		cfg.BPFFS = bpffs
	}
	return cfg, cfg.Validate()
}

// portValue is a pflag.Value accepting 0-65535 or "any".
type portValue uint16

func (p *portValue) String() string { return fmt.Sprint(uint16(*p)) }

func (p *portValue) Set(s string) error {
	port, err := rules.ParsePort(s)
	if err != nil {
		return err
	}
	*p = portValue(port)
	return nil
}

func (p *portValue) Type() string { return "port" }

var _ pflag.Value = (*portValue)(nil)

func setupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("PRETTY") == "1" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}
