package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/stackz"
	"github.com/zoobzio/stackz/internal/scenario"
)

type demoOptions struct {
	actors        int
	unit          time.Duration
	interval      time.Duration
	slowThreshold time.Duration
	detached      bool
	metricsAddr   string
}

func newDemoCommand() *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run traced actors and print their span trees as they change",
		Long: `Runs one or more actors through a workload of joins, selects and streams.
Each actor publishes its span tree every interval; changed trees are printed.

Defaults come from STACKZ_INTERVAL, STACKZ_SLOW_THRESHOLD and
STACKZ_SHOW_DETACHED. Flags override the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := stackz.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("interval") {
				cfg.Interval = opts.interval
			}
			if flags.Changed("slow-threshold") {
				cfg.SlowThreshold = opts.slowThreshold
			}
			if flags.Changed("detached") {
				cfg.ShowDetached = opts.detached
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if opts.actors <= 0 {
				return fmt.Errorf("actors must be > 0, got %d", opts.actors)
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.actors, "actors", 1, "number of concurrent actors")
	flags.DurationVar(&opts.unit, "unit", time.Millisecond, "length of one workload time unit")
	flags.DurationVar(&opts.interval, "interval", time.Second, "report interval (overrides STACKZ_INTERVAL)")
	flags.DurationVar(&opts.slowThreshold, "slow-threshold", stackz.DefaultSlowThreshold, "flag spans open this long (overrides STACKZ_SLOW_THRESHOLD)")
	flags.BoolVar(&opts.detached, "detached", false, "render subtrees detached by cancellation (overrides STACKZ_SHOW_DETACHED)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, cfg stackz.Config, opts demoOptions) error {
	log := clog.FromContext(ctx)

	reg := prometheus.NewRegistry()
	tracer := stackz.NewFromConfig(cfg).WithMetrics(stackz.NewMetrics(reg))

	collector := stackz.NewCollector("demo", 1024)
	defer collector.Close()
	if err := tracer.EnableWorkerPool(2, 256); err != nil {
		return err
	}
	tracer.OnReportAsync(collector.Collect)

	manager := stackz.NewManager[string]()
	g, gctx := errgroup.WithContext(ctx)

	var actors sync.WaitGroup
	for i := 1; i <= opts.actors; i++ {
		key := fmt.Sprintf("actor %d", i)
		tx := manager.Register(key)
		w := scenario.New(tracer.Clock(), opts.unit)

		actors.Add(1)
		g.Go(func() error {
			defer actors.Done()
			leaked, err := stackz.BlockOn(gctx, stackz.Scope(tracer, w.Hello(), key, tx, cfg.Interval))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if leaked != 0 {
				log.Warn("Actor finished with spans left behind", "actor", key, "nodes", leaked)
			}
			log.Debug("Actor finished", "actor", key)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		actors.Wait()
		close(done)
	}()

	g.Go(func() error {
		return printChanged(gctx, out, manager, cfg.Interval, done)
	})

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("Serving metrics", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	tracer.Close()

	fmt.Fprintf(out, "published %d reports (%d dropped by handlers)\n",
		collector.Count(), tracer.DroppedReports())
	return err
}

// printChanged prints every changed report each interval until the actors
// are done, then flushes the final reports.
func printChanged(ctx context.Context, out io.Writer, manager *stackz.Manager[string], interval time.Duration, done <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			flush(out, manager)
			return nil
		case <-ticker.C:
			flush(out, manager)
		}
	}
}

func flush(out io.Writer, manager *stackz.Manager[string]) {
	type entry struct {
		key    string
		report stackz.Report
	}
	var changed []entry
	for key, report := range manager.GetAllChanged() {
		changed = append(changed, entry{key: key, report: report})
	}
	slices.SortFunc(changed, func(a, b entry) int {
		return strings.Compare(a.key, b.key)
	})
	for _, e := range changed {
		fmt.Fprintf(out, ">> %s\n%s\n", e.key, e.report)
	}
}
