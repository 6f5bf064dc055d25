// Package trace consumes drop events from the filters, logs them and
// exports them as Prometheus counters.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"portguard/filter"
	"portguard/fwebpf"
)

// Source yields drop events until it is closed.
type Source interface {
	Name() string
	Read() (filter.Event, error)
	Close() error
}

// Consumer handles drop events from any number of sources.
type Consumer struct {
	logger  zerolog.Logger
	metrics *Metrics
	out     io.Writer
}

// NewConsumer returns a Consumer. When out is not nil every event is also
// written to it as a single "BLOCKING ..." line.
func NewConsumer(logger zerolog.Logger, metrics *Metrics, out io.Writer) *Consumer {
	return &Consumer{
		logger:  logger.With().Str("component", "trace").Logger(),
		metrics: metrics,
		out:     out,
	}
}

// Handle records a single event.
func (c *Consumer) Handle(ev filter.Event) {
	c.metrics.Drops.WithLabelValues(ev.Hook.String()).Inc()

	l := c.logger.Info().
		Str("hook", ev.Hook.String()).
		Str("action", ev.Action.String()).
		Uint16("port", ev.Port)
	if ev.Hook != filter.HookXDP {
		l = l.Str("comm", ev.ProcessName()).Uint32("pid", ev.PID)
	}
	l.Msg("drop")

	if c.out != nil {
		fmt.Fprintln(c.out, ev.String())
	}
}

// Run reads every source until ctx is done, then closes them. Decoding
// errors are counted and skipped; any other read error stops Run.
func (c *Consumer) Run(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		for _, s := range sources {
			s.Close()
		}
	})
	defer stop()
	for _, s := range sources {
		g.Go(func() error {
			return c.read(ctx, s)
		})
	}
	return g.Wait()
}

func (c *Consumer) read(ctx context.Context, s Source) error {
	c.logger.Debug().Str("source", s.Name()).Msg("reading events")
	for {
		ev, err := s.Read()
		switch {
		case err == nil:
			c.Handle(ev)
		case errors.Is(err, fwebpf.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, filter.ErrShortEvent):
			c.metrics.ReadErrors.WithLabelValues(s.Name()).Inc()
			c.logger.Warn().Err(err).Str("source", s.Name()).Msg("skipping event")
		default:
			c.metrics.ReadErrors.WithLabelValues(s.Name()).Inc()
			return fmt.Errorf("reading %s: %w", s.Name(), err)
		}
	}
}

// Drain handles the events buffered in t until ctx is done and reports the
// events t had to discard.
func (c *Consumer) Drain(ctx context.Context, t *filter.ChanTracer) {
	var lost uint64
	flush := func() {
		if n := t.Lost(); n > lost {
			c.metrics.Lost.Add(float64(n - lost))
			c.logger.Warn().Uint64("lost", n-lost).Msg("events lost")
			lost = n
		}
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-t.C:
					c.Handle(ev)
				default:
					flush()
					return
				}
			}
		case ev := <-t.C:
			c.Handle(ev)
			flush()
		}
	}
}
