package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyberguard/soar-engine/internal/config"
	"github.com/cyberguard/soar-engine/internal/model"
	"github.com/cyberguard/soar-engine/internal/store/pg"
)

func slaReportCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sla-report",
		Short: "Summarize MTTA/MTTC/MTTR breach counts over recent executions",
		Long:  `Scans the most recent completed and failed executions and reports how many missed their acknowledge, containment, or resolution SLA threshold, and why.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSLAReport(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum executions per state to scan")
	return cmd
}

type slaTally struct {
	total              int
	acknowledgeBreach  int
	containmentBreach  int
	resolutionBreach   int
	byReason           map[model.BreachReason]int
}

func runSLAReport(ctx context.Context, limit int) error {
	cfg, err := config.Load(cfgDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := pg.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	tally := &slaTally{byReason: make(map[model.BreachReason]int)}
	for _, state := range []model.ExecutionState{model.ExecCompleted, model.ExecFailed} {
		execs, err := store.ListExecutions(ctx, state, limit)
		if err != nil {
			return fmt.Errorf("list %s executions: %w", state, err)
		}
		for _, e := range execs {
			accumulateSLA(tally, e)
		}
	}

	printSLAReport(os.Stdout, tally)
	return nil
}

func accumulateSLA(t *slaTally, e *model.Execution) {
	t.total++
	for _, dim := range []model.SLADimension{e.SLAStatus.Acknowledge, e.SLAStatus.Containment, e.SLAStatus.Resolution} {
		if !dim.Breached {
			continue
		}
		t.byReason[dim.BreachedBy]++
	}
	if e.SLAStatus.Acknowledge.Breached {
		t.acknowledgeBreach++
	}
	if e.SLAStatus.Containment.Breached {
		t.containmentBreach++
	}
	if e.SLAStatus.Resolution.Breached {
		t.resolutionBreach++
	}
}

func printSLAReport(out io.Writer, t *slaTally) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "executions scanned:\t%d\n", t.total)
	fmt.Fprintf(w, "acknowledge breaches (MTTA):\t%d\n", t.acknowledgeBreach)
	fmt.Fprintf(w, "containment breaches (MTTC):\t%d\n", t.containmentBreach)
	fmt.Fprintf(w, "resolution breaches (MTTR):\t%d\n", t.resolutionBreach)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "breach reason\tcount")
	for reason, count := range t.byReason {
		fmt.Fprintf(w, "%s\t%d\n", reason, count)
	}
	w.Flush()
}
