package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"portguard/config"
	"portguard/rules"
)

var (
	loadPort        portValue
	loadAllowedPort portValue
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Write the filter configuration",
	Long: `Write the packet filter port and the socket filter process rule to the
pinned configuration maps. Values come from --config and may be overridden
with flags. Port 0 disables the packet filter and an empty process name
disables the socket filter.

With --watch the configuration file is reloaded whenever it changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		overrides := func(c *config.Config) error {
			if cmd.Flags().Changed("port") {
				c.Packet.Port = uint16(loadPort)
			}
			if cmd.Flags().Changed("process") {
				c.Socket.Process, _ = cmd.Flags().GetString("process")
			}
			if cmd.Flags().Changed("allowed-port") {
				c.Socket.AllowedPort = uint16(loadAllowedPort)
			}
			return c.Validate()
		}
		if err := overrides(cfg); err != nil {
			return err
		}

		info("Applying configuration to %s...\n", cfg.PinDir())
		if err := rules.ApplyConfig(cfg); err != nil {
			return err
		}

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			return nil
		}
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			return fmt.Errorf("--watch requires --config")
		}

		logger := setupLogger(cfg.LogLevel)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger.Info().Str("config", path).Msg("watching configuration")
		return config.Watch(ctx, path,
			func(next *config.Config) {
				if bpffs, _ := cmd.Flags().GetString("bpffs"); bpffs != "" {
					next.BPFFS = bpffs
				}
				if err := overrides(next); err != nil {
					logger.Error().Err(err).Msg("invalid configuration")
					return
				}
				if err := rules.ApplyConfig(next); err != nil {
					logger.Error().Err(err).Msg("applying configuration")
					return
				}
				logger.Info().
					Uint16("port", next.Packet.Port).
					Str("process", next.Socket.Process).
					Uint16("allowed_port", next.Socket.AllowedPort).
					Msg("configuration reloaded")
			},
			func(err error) {
				logger.Warn().Err(err).Msg("configuration not reloaded")
			})
	},
}

func init() {
	loadCmd.Flags().Var(&loadPort, "port", "TCP port dropped by the packet filter (0 or any disables it)")
	loadCmd.Flags().String("process", "", "Process name restricted by the socket filter (at most 15 bytes)")
	loadCmd.Flags().Var(&loadAllowedPort, "allowed-port", "The only port the process may connect or bind to")
	loadCmd.Flags().Bool("watch", false, "Reload --config when it changes")
}
