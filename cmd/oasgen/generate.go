package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"oasgen/internal/config"
	"oasgen/internal/crawler"
	"oasgen/internal/llm"
	"oasgen/internal/pipeline"
	"oasgen/internal/prompt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var generateFlags struct {
	output      string
	workers     int
	schema      string
	structure   bool
	incremental bool
	report      string
	provider    string
	model       string
}

var generateCmd = &cobra.Command{
	Use:   "generate [input-dir]",
	Short: "Generate an OpenAPI specification for every documentation file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyGenerateFlags(cmd, cfg, args)
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		gen, err := llm.NewGenerator(ctx, llm.Options{
			Provider:    cfg.Generator.Provider,
			APIKey:      cfg.Generator.APIKey,
			Model:       cfg.Generator.Model,
			BaseURL:     cfg.Generator.BaseURL,
			Temperature: cfg.Generator.Temperature,
			MaxTokens:   cfg.Generator.MaxTokens,
			Timeout:     cfg.Generator.Timeout.Std(),
			Concurrency: cfg.Generator.Concurrency,
		})
		if err != nil {
			return fmt.Errorf("failed to create generator: %w", err)
		}

		schema, err := loadSchema(cfg.Validation.Schema)
		if err != nil {
			return err
		}
		loader, err := crawler.NewLoader(cfg.Input.ExtractHTML)
		if err != nil {
			return err
		}

		o := pipeline.NewOrchestrator(pipeline.Options{
			InputDir:       cfg.Input.Dir,
			OutputDir:      cfg.Output.Dir,
			Ignore:         cfg.Input.Ignore,
			Workers:        cfg.Pipeline.Workers,
			CheckStructure: cfg.Validation.Structure,
			Incremental:    cfg.Pipeline.Incremental,
			ReportPath:     cfg.Pipeline.Report,
			GeneratorID:    generatorID(cfg),
		}, gen)
		o.Prompts = &prompt.Builder{Instruction: cfg.Prompt.Instruction}
		o.Loader = loader
		o.Schema = schema
		o.Logger = logger

		store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			o.Ledger = store
		} else if cfg.Pipeline.Incremental {
			logger.Warn("incremental mode needs storage.db; processing every document")
		}

		fmt.Printf("📂 Generating specifications: %s -> %s\n", cfg.Input.Dir, cfg.Output.Dir)
		sum, err := o.Run(ctx)
		if sum != nil {
			printSummary(sum)
		}
		return err
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&generateFlags.output, "output", "o", "", "Output directory (overrides output.dir)")
	f.IntVarP(&generateFlags.workers, "workers", "w", 0, "Documents processed concurrently (overrides pipeline.workers)")
	f.StringVar(&generateFlags.schema, "schema", "", "OpenAPI JSON Schema document (overrides validation.schema)")
	f.BoolVar(&generateFlags.structure, "structure", false, "Also run structural OpenAPI validation")
	f.BoolVar(&generateFlags.incremental, "incremental", false, "Skip documents unchanged since their last persisted run")
	f.StringVar(&generateFlags.report, "report", "", "Write a JSON run report to this path")
	f.StringVar(&generateFlags.provider, "provider", "", "Generator provider: gemini, openai, ollama")
	f.StringVar(&generateFlags.model, "model", "", "Generator model name")
}

// generatorID identifies the generator settings that shape its output. The
// API key and limits are left out.
func generatorID(cfg *config.Config) string {
	temperature := "default"
	if t := cfg.Generator.Temperature; t != nil {
		temperature = strconv.FormatFloat(*t, 'g', -1, 64)
	}
	return strings.Join([]string{
		strings.ToLower(cfg.Generator.Provider),
		cfg.Generator.Model,
		cfg.Generator.BaseURL,
		temperature,
		strconv.Itoa(cfg.Generator.MaxTokens),
	}, "|")
}

func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config, args []string) {
	if len(args) > 0 {
		cfg.Input.Dir = args[0]
	}
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output.Dir = generateFlags.output
	}
	if f.Changed("workers") {
		cfg.Pipeline.Workers = generateFlags.workers
	}
	if f.Changed("schema") {
		cfg.Validation.Schema = generateFlags.schema
	}
	if f.Changed("structure") {
		cfg.Validation.Structure = generateFlags.structure
	}
	if f.Changed("incremental") {
		cfg.Pipeline.Incremental = generateFlags.incremental
	}
	if f.Changed("report") {
		cfg.Pipeline.Report = generateFlags.report
	}
	if f.Changed("provider") {
		cfg.Generator.Provider = generateFlags.provider
	}
	if f.Changed("model") {
		cfg.Generator.Model = generateFlags.model
	}
}

func printSummary(sum *pipeline.Summary) {
	fmt.Printf("✅ Run %s finished in %v: %s persisted, %s flagged, %s failed, %d skipped\n",
		sum.RunID, sum.Duration.Round(time.Millisecond),
		color.GreenString("%d", sum.Persisted),
		color.YellowString("%d", sum.Flagged),
		color.RedString("%d", sum.Failed),
		sum.Skipped)

	problems := sum.Problems()
	if len(problems) == 0 {
		return
	}
	fmt.Println("⚠️  Documents needing attention:")
	for _, p := range problems {
		name := filepath.Base(p.Path)
		switch p.Status {
		case pipeline.StatusFailed:
			fmt.Printf("  %s %s (%s): %v\n", color.RedString("failed "), name, p.Stage, p.Err)
		default:
			detail := p.Outcome.String()
			if len(p.Reasons) > 0 {
				detail += ": " + p.Reasons[0]
				if len(p.Reasons) > 1 {
					detail += fmt.Sprintf(" (+%d more)", len(p.Reasons)-1)
				}
			}
			fmt.Printf("  %s %s: %s\n", color.YellowString("flagged"), name, detail)
		}
	}
}
