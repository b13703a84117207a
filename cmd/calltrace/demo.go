package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zoobzio/calltrace"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

var (
	demoFrames   int
	demoInterval time.Duration
	demoResizes  int
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "trace a simulated component workload",
	Long: `
Run a small component tree on a single-threaded event loop and trace it.
Slow call trees are reported as they complete, call totals once per frame,
and a table of totals across all frames at the end.
`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().IntVar(
		&demoFrames, "frames", 5, "number of frames to run")
	demoCmd.Flags().DurationVar(
		&demoInterval, "frame-interval", 50*time.Millisecond, "length of one frame")
	demoCmd.Flags().IntVar(
		&demoResizes, "resizes", 3, "resize events emitted per frame")
}

// siteTotal accumulates one call site across frames.
type siteTotal struct {
	site       string
	frames     int
	tally      int
	cumulative time.Duration
}

func runDemo(cmd *cobra.Command, _ []string) error {
	if demoFrames <= 0 || demoInterval <= 0 {
		return errors.New("frames and frame-interval must be > 0")
	}
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	cfg, err := calltrace.NewConfig(s)
	if err != nil {
		return err
	}
	logger, err := calltrace.NewLogger(logLevel, true)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sink := calltrace.NewConsoleSink(out, cfg)
	sink.SetNoColor(noColor)

	clock := clockz.RealClock
	tracer := calltrace.New(cfg).WithClock(clock)
	defer tracer.Close()
	tracer.SetSink(sink)
	tracer.SetLogger(logger)

	reg := prometheus.NewRegistry()
	tracer.AttachMetrics(calltrace.NewMetrics(reg))

	totals := make(map[string]*siteTotal)
	tracer.OnFlush(func(aggs []calltrace.Aggregate) {
		for _, a := range aggs {
			st, ok := totals[a.Site]
			if !ok {
				st = &siteTotal{site: a.Site}
				totals[a.Site] = st
			}
			st.frames++
			st.tally += a.Tally
			st.cumulative += a.Cumulative
		}
	})

	loop := newEventLoop(clock)
	app := buildApp(tracer, loop, clock)
	app.Call("created")

	for frame := 0; frame < demoFrames; frame++ {
		for i := 0; i < demoResizes; i++ {
			loop.emit("resize", frame)
		}
		loop.runUntil(clock.Now().Add(demoInterval))
		tracer.Flush()
	}
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	logger.Info("demo finished",
		zap.Int("metric_families", len(families)),
		zap.Int("frames", demoFrames),
		zap.Int("unfired_tasks", loop.pending()),
		zap.Int("pending_correlations", tracer.Pending()))

	return writeTotals(out, totals)
}

func writeTotals(out io.Writer, totals map[string]*siteTotal) error {
	rows := make([]*siteTotal, 0, len(totals))
	for _, st := range totals {
		rows = append(rows, st)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].cumulative != rows[j].cumulative {
			return rows[i].cumulative > rows[j].cumulative
		}
		return rows[i].site < rows[j].site
	})

	if _, err := fmt.Fprintln(out); err != nil {
		return errors.Wrap(err, "write totals")
	}
	tbl := tablewriter.NewWriter(out)
	tbl.SetHeader([]string{"Site", "Frames", "Calls", "Total", "Mean"})
	for _, st := range rows {
		mean := st.cumulative / time.Duration(st.tally)
		tbl.Append([]string{
			st.site,
			strconv.Itoa(st.frames),
			strconv.Itoa(st.tally),
			st.cumulative.Round(time.Microsecond).String(),
			mean.Round(time.Microsecond).String(),
		})
	}
	tbl.Render()
	return nil
}
