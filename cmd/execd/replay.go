package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"algo-exec-go/infrastructure/alert"
	"algo-exec-go/internal/container"
)

func newReplayCmd(rc *rootOptions) *cobra.Command {
	var (
		ticks   string
		console bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a tick CSV through the simulated venue and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := container.Options{Mode: container.ModeReplay, ReplayPath: ticks}
			if console {
				opts.Channels = []alert.Channel{alert.NewConsoleChannel("console")}
			}
			c, err := container.New(rc.configPath, opts)
			if err != nil {
				return err
			}
			if err := c.Build(); err != nil {
				return err
			}
			if err := c.Start(cmd.Context()); err != nil {
				return err
			}
			st, runErr := c.Run(cmd.Context())
			if err := c.Stop(); err != nil && runErr == nil {
				runErr = err
			}
			sum := c.Summary(st)
			printSummary(cmd.OutOrStdout(), sum)
			return runErr
		},
	}
	cmd.Flags().StringVar(&ticks, "ticks", "", "tick CSV (defaults to feed.path)")
	cmd.Flags().BoolVar(&console, "console-alerts", false, "print alerts to the console instead of the log")
	return cmd
}

func printSummary(w io.Writer, s container.Summary) {
	fmt.Fprintf(w, "ticks=%d skipped=%d rounds=%d\n", s.Stats.Ticks, s.Stats.Skipped, s.Stats.Rounds)
	v := s.Stats.Venue
	fmt.Fprintf(w, "venue: placed=%d acked=%d fills=%d rejected=%d cancelled=%d filled_qty=%.4f\n",
		v.Placed, v.Acked, v.Fills, v.Rejected, v.Cancelled, v.Filled)

	fmt.Fprintln(w, "positions:")
	for _, p := range s.Valuations {
		fmt.Fprintf(w, "  %-12s net=%.4f avg_cost=%.4f realized=%.4f unrealized=%.4f fills=%d\n",
			p.Instrument, p.Net, p.AvgCost, p.RealizedPnL, p.UnrealizedPnL, p.Fills)
	}

	ids := make([]string, 0, len(s.Finished))
	for id := range s.Finished {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "executions:")
	for _, id := range ids {
		result := "completed"
		if err := s.Finished[id]; err != nil {
			result = err.Error()
		}
		fmt.Fprintf(w, "  %-12s %s\n", id, result)
	}
	if q := s.Quality; len(q.Executions) > 0 {
		fmt.Fprintln(w, "quality:")
		for _, e := range q.Executions {
			fmt.Fprintf(w, "  %-12s %-8s arrival=%.4f slippage_bps=%.2f fills=%d\n",
				e.Strategy, e.Instrument, e.Arrival, e.SlippageBps(), e.Fills)
		}
		horizons := make([]time.Duration, 0, len(q.AvgMarkoutBps))
		for h := range q.AvgMarkoutBps {
			horizons = append(horizons, h)
		}
		sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })
		for _, h := range horizons {
			fmt.Fprintf(w, "  markout %-6s avg_bps=%.2f\n", h, q.AvgMarkoutBps[h])
		}
		if q.AnalyzedFills > 0 {
			fmt.Fprintf(w, "  adverse_rate=%.2f analyzed=%d/%d\n", q.AdverseRate, q.AnalyzedFills, q.TotalFills)
		}
	}
	if len(s.Degraded) > 0 {
		fmt.Fprintf(w, "degraded: %v\n", s.Degraded)
	}
	if len(s.Drifts) > 0 {
		fmt.Fprintf(w, "reconcile drifts: %d\n", len(s.Drifts))
	}
	if s.Journal != nil {
		fmt.Fprintf(w, "journal: run=%s written=%d dropped=%d\n", s.JournalRun, s.Journal.Written, s.Journal.Dropped)
	}
	if s.BookErr != nil {
		fmt.Fprintf(w, "book mismatch: %v\n", s.BookErr)
	}
	if s.Fatal != nil {
		fmt.Fprintf(w, "HALTED: %v\n", s.Fatal)
	}
}
