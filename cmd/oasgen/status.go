package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"oasgen/internal/scoring"
	"oasgen/internal/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest generation run and evaluation recorded in the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("no ledger configured; set storage.db or pass --db")
		}
		defer store.Close()
		return printStatus(cmd.Context(), os.Stdout, store)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(ctx context.Context, w io.Writer, store storage.Ledger) error {
	run, err := store.LatestRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to read latest run: %w", err)
	}
	if run == nil {
		fmt.Fprintln(w, "📂 No generation runs recorded")
	} else {
		fmt.Fprintf(w, "📂 Run %s (%s): %s -> %s\n", run.ID, formatStarted(run.StartedAt), run.InputDir, run.OutputDir)
		if run.FinishedAt.IsZero() {
			fmt.Fprintf(w, "   %s\n", color.YellowString("unfinished"))
		}
		fmt.Fprintf(w, "   %s persisted, %s flagged, %s failed, %d skipped\n",
			color.GreenString("%d", run.Persisted), color.YellowString("%d", run.Flagged),
			color.RedString("%d", run.Failed), run.Skipped)

		docs, err := store.ListDocuments(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, d := range docs {
			switch d.Status {
			case "failed":
				fmt.Fprintf(w, "   %s %s (%s): %s\n", color.RedString("failed "), d.Path, d.Stage, d.Error)
			case "flagged":
				detail := ""
				if len(d.Reasons) > 0 {
					detail = ": " + d.Reasons[0]
				}
				fmt.Fprintf(w, "   %s %s%s\n", color.YellowString("flagged"), d.Path, detail)
			}
		}
	}

	eval, err := store.LatestEvaluation(ctx)
	if err != nil {
		return fmt.Errorf("failed to read latest evaluation: %w", err)
	}
	if eval == nil {
		fmt.Fprintln(w, "📊 No evaluations recorded")
		return nil
	}
	fmt.Fprintf(w, "📊 Evaluation %s (%s): %s against %s\n", eval.ID, formatStarted(eval.CreatedAt), eval.GeneratedDir, eval.ExpectedDir)
	fmt.Fprintf(w, "   %d cases: %d exact, %d tool failures, %d missing, mean correctness %.3f\n",
		eval.Cases, eval.ExactMatches, eval.ToolFailures, eval.MissingOutputs, eval.MeanCorrectness)

	scores, err := store.ListScores(ctx, eval.ID)
	if err != nil {
		return err
	}
	for _, s := range scores {
		if s.Correctness == 1 {
			continue
		}
		if s.DiffCount == scoring.FailedDiffCount {
			fmt.Fprintf(w, "   %s %s\n", color.RedString("failed "), s.Name)
			continue
		}
		fmt.Fprintf(w, "   %s %s (%d differences)\n", color.YellowString("differs"), s.Name, s.DiffCount)
	}
	return nil
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	return t.Local().Format(time.DateTime)
}
