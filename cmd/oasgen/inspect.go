package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"oasgen/internal/config"
	"oasgen/internal/crawler"
	"oasgen/internal/prompt"
	"oasgen/internal/sanitize"
	"oasgen/internal/scoring"
	"oasgen/internal/storage"
	"oasgen/internal/validate"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var validateFlags struct {
	schema    string
	structure bool
	sanitize  bool
}

var validateCmd = &cobra.Command{
	Use:   "validate <spec.json>...",
	Short: "Validate specification files as JSON, against the OpenAPI schema and structurally",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("schema") {
			cfg.Validation.Schema = validateFlags.schema
		}
		if cmd.Flags().Changed("structure") {
			cfg.Validation.Structure = validateFlags.structure
		}
		schema, err := loadSchema(cfg.Validation.Schema)
		if err != nil {
			return err
		}

		invalid := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			text := string(data)
			if validateFlags.sanitize {
				text = sanitize.StripFences(text)
			}

			res := validate.Check(text, schema)
			reasons := res.Reasons
			if res.OK() && cfg.Validation.Structure {
				issues, err := validate.CheckStructure(text)
				switch {
				case err != nil:
					res.Outcome = validate.SchemaInvalid
					reasons = []string{err.Error()}
				case validate.HasErrors(issues):
					res.Outcome = validate.SchemaInvalid
					for _, i := range issues {
						if !i.Warning {
							reasons = append(reasons, i.String())
						}
					}
				}
			}

			if res.Outcome == validate.Valid {
				fmt.Printf("%s %s\n", color.GreenString("✔ valid         "), path)
				continue
			}
			invalid++
			fmt.Printf("%s %s\n", color.RedString("✘ %-14s", res.Outcome), path)
			for _, r := range reasons {
				fmt.Printf("    - %s\n", r)
			}
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d files invalid", invalid, len(args))
		}
		return nil
	},
}

var scoreFlags struct {
	backend string
	tool    string
}

var scoreCmd = &cobra.Command{
	Use:   "score <expected.json> <generated.json>",
	Short: "Diff a generated specification against the expected one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyScoreFlags(cmd, cfg)
		scorer, err := newScorer(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		expected, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		generated, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}

		report := scorer.Run(cmd.Context(), string(expected), string(generated))
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval <expected-dir> [generated-dir]",
	Short: "Score every expected specification against its generated counterpart",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyScoreFlags(cmd, cfg)
		logger := newLogger(cfg)
		scorer, err := newScorer(cfg, logger)
		if err != nil {
			return err
		}

		generatedDir := cfg.Output.Dir
		if len(args) > 1 {
			generatedDir = args[1]
		}

		ctx := cmd.Context()
		fmt.Printf("🔍 Scoring %s against %s\n", generatedDir, args[0])
		eval, err := scoring.EvaluateDirs(ctx, scorer, args[0], generatedDir)
		if err != nil {
			return err
		}

		store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			if _, err := saveEvaluation(ctx, store, eval, args[0], generatedDir); err != nil {
				logger.Warn("failed to record evaluation", "error", err)
			}
		}

		for _, c := range eval.Cases {
			switch {
			case c.Missing:
				fmt.Printf("  %s %s\n", color.RedString("missing"), c.Name)
			case c.Report.Failed():
				fmt.Printf("  %s %s\n", color.RedString("failed "), c.Name)
			case c.Report.Exact():
				fmt.Printf("  %s %s\n", color.GreenString("exact  "), c.Name)
			default:
				fmt.Printf("  %s %s (%d differences)\n", color.YellowString("differs"), c.Name, c.Report.DiffCount)
			}
		}
		fmt.Printf("📊 %d cases: %d exact, %d tool failures, %d missing, mean correctness %.3f\n",
			len(eval.Cases), eval.ExactMatches, eval.ToolFailures, eval.MissingOutputs, eval.MeanCorrectness)
		return nil
	},
}

func saveEvaluation(ctx context.Context, store storage.ScoreStore, eval *scoring.Evaluation, expectedDir, generatedDir string) (string, error) {
	id := uuid.NewString()
	if err := store.SaveEvaluation(ctx, storage.EvaluationRecord{
		ID:              id,
		ExpectedDir:     expectedDir,
		GeneratedDir:    generatedDir,
		CreatedAt:       time.Now(),
		Cases:           len(eval.Cases),
		ExactMatches:    eval.ExactMatches,
		ToolFailures:    eval.ToolFailures,
		MissingOutputs:  eval.MissingOutputs,
		MeanCorrectness: eval.MeanCorrectness,
	}); err != nil {
		return "", err
	}
	for _, c := range eval.Cases {
		if err := store.SaveScore(ctx, storage.ScoreRecord{
			RunID:       id,
			Name:        c.Name,
			Expected:    c.ExpectedPath,
			Generated:   c.GeneratedPath,
			Correctness: c.Report.Correctness,
			DiffCount:   c.Report.DiffCount,
			Differences: c.Report.Differences,
		}); err != nil {
			return id, err
		}
	}
	return id, nil
}

func init() {
	validateCmd.Flags().StringVar(&validateFlags.schema, "schema", "", "OpenAPI JSON Schema document (overrides validation.schema)")
	validateCmd.Flags().BoolVar(&validateFlags.structure, "structure", false, "Also run structural OpenAPI validation")
	validateCmd.Flags().BoolVar(&validateFlags.sanitize, "sanitize", false, "Strip code fences before validating")

	for _, c := range []*cobra.Command{scoreCmd, evalCmd} {
		c.Flags().StringVar(&scoreFlags.backend, "backend", "", "Diff backend: exec or oastools (overrides scoring.backend)")
		c.Flags().StringVar(&scoreFlags.tool, "tool", "", "Diff tool executable (overrides scoring.tool_path)")
	}
}

func applyScoreFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("backend") {
		cfg.Scoring.Backend = scoreFlags.backend
	}
	if cmd.Flags().Changed("tool") {
		cfg.Scoring.ToolPath = scoreFlags.tool
	}
}

var promptCmd = &cobra.Command{
	Use:   "prompt <document>",
	Short: "Print the prompt that would be sent for a documentation file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		loader, err := crawler.NewLoader(cfg.Input.ExtractHTML)
		if err != nil {
			return err
		}
		doc, err := loader.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		b := &prompt.Builder{Instruction: cfg.Prompt.Instruction}
		fmt.Print(b.Build(doc.Text))
		fmt.Fprintf(os.Stderr, "📝 artifact name: %s\n", filepath.Join(cfg.Output.Dir, crawler.ArtifactName(args[0])))
		return nil
	},
}
