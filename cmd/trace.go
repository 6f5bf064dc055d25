package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"portguard/fwebpf"
	"portguard/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Print the packets and socket operations the filters reject",
	Long: `Read the drop events of every attached filter until interrupted.

By default one line is printed per event, in the form
  BLOCKING connect to port 80 (comm=curl pid=1234)
With --output json the events are written as structured log lines instead.
With --metrics-addr (or metrics_addr in the configuration file) drop counters
are exported for Prometheus under /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		}
		output, _ := cmd.Flags().GetString("output")

		logger := setupLogger(cfg.LogLevel)
		var out io.Writer
		switch output {
		case "lines":
			out = os.Stdout
			logger = logger.Level(zerolog.WarnLevel)
		case "json":
		default:
			return fmt.Errorf("invalid output %q (want lines or json)", output)
		}

		var sources []trace.Source
		for _, name := range []string{fwebpf.PacketEventsMap, fwebpf.SocketEventsMap} {
			rd, err := fwebpf.OpenEventReader(cfg.PinDir(), name)
			if errors.Is(err, fwebpf.ErrNotLoaded) {
				continue
			}
			if err != nil {
				return err
			}
			sources = append(sources, rd)
		}
		if len(sources) == 0 {
			return fmt.Errorf("no filter attached under %s", cfg.PinDir())
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		consumer := trace.NewConsumer(logger, trace.NewMetrics(reg), out)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		if cfg.MetricsAddr != "" {
			g.Go(func() error {
				return trace.Serve(ctx, cfg.MetricsAddr, reg, logger)
			})
		}
		g.Go(func() error {
			return consumer.Run(ctx, sources...)
		})
		if out != nil {
			info("Tracing drops, press Ctrl-C to stop\n")
		}
		return g.Wait()
	},
}

func init() {
	traceCmd.Flags().String("output", "lines", "Output format: lines or json")
	traceCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on, e.g. 127.0.0.1:9464")
}
