package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"portguard/filter"
	"portguard/fwebpf"
	"portguard/trace"
)

var replayPort portValue

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Run a pcap or pcapng capture through the packet filter decision",
	Long: `Evaluate every frame of an Ethernet capture the way the packet filter would
and print a summary of the verdicts. The port comes from --port or, when not
given, from the attached packet filter.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")

		rule := filter.PortRule{Port: uint16(replayPort)}
		if !cmd.Flags().Changed("port") {
			ports, err := fwebpf.OpenPortMap(cfg.PinDir())
			if err != nil {
				return fmt.Errorf("%w (or pass --port)", err)
			}
			rule, _ = ports.Load()
			ports.Close()
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		src, err := openCapture(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		var cell filter.PortCell
		cell.Store(rule)
		tracer := filter.NewChanTracer(1024)
		hook := filter.PacketHook{Rules: &cell, Tracer: tracer}

		var out io.Writer
		if verbose {
			out = os.Stdout
		}
		consumer := trace.NewConsumer(zerolog.Nop(), trace.NewMetrics(prometheus.NewRegistry()), out)
		ctx, stop := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Drain(ctx, tracer)
		}()

		counts := map[filter.Reason]int{}
		total, dropped := 0, 0
		for {
			data, _, err := src.ReadPacketData()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				stop()
				wg.Wait()
				return fmt.Errorf("frame %d: %w", total+1, err)
			}
			total++
			v := hook.Decide(data)
			counts[v.Reason]++
			if v.Dropped() {
				dropped++
			}
		}
		stop()
		wg.Wait()

		info("%d frames, %d dropped with port %d\n", total, dropped, rule.Port)
		reasons := make([]filter.Reason, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		for _, r := range reasons {
			fmt.Printf("  %-20s %d\n", r, counts[r])
		}
		if n := tracer.Lost(); n > 0 {
			errPrint(os.Stderr, "%d drop lines not printed\n", n)
		}
		return nil
	},
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// openCapture accepts pcap and pcapng files with Ethernet framing.
func openCapture(f *os.File) (packetSource, error) {
	if r, err := pcapgo.NewReader(f); err == nil {
		if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
			return nil, fmt.Errorf("unsupported link type %s", lt)
		}
		return r, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, err
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported link type %s", lt)
	}
	return r, nil
}

func init() {
	replayCmd.Flags().Var(&replayPort, "port", "TCP port to drop (default: the attached filter's port)")
	replayCmd.Flags().BoolP("verbose", "v", false, "Print a line for every dropped frame")
}
