package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"patchloop/internal/config"
	"patchloop/internal/loader"
	"patchloop/internal/scheduler"
)

var version = "0.1.0-dev"

func main() {
	// Local .env first so api_key_env lookups resolve.
	_ = godotenv.Load()

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// summary aggregates one batch run for the execution report.
type summary struct {
	Fixed  []string `json:"fixed"`
	Failed []string `json:"failed"`
	Errors []string `json:"errors"`
}

// buildRootCmd creates the root cobra command with all subcommands.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "patchloop",
		Short: "patchloop - iterative LLM program repair",
		Long: `patchloop repairs defective source files by building layered code
context (dependency slices and structural skeletons), prompting a language
model under a token budget, and validating candidate patches against the
project's test suite across bounded feedback rounds.`,
		Version: version,
	}

	var configPath string
	var debug bool
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/settings.yaml", "Path to the settings file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Verbose logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
	}

	// --- repair command ---
	var (
		manifestPath  string
		projectFilter string
		bugFilter     string
		provider      string
		dataset       string
		outputDir     string
		templatePath  string
		localAnalysis bool
	)

	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Run repair sessions for every artifact in a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if outputDir == "" {
				outputDir = cfg.Project.OutputDir
			}

			artifacts, err := loader.LoadManifest(manifestPath, loader.Filter{
				Project: projectFilter,
				BugID:   bugFilter,
			})
			if err != nil {
				return err
			}
			if len(artifacts) == 0 {
				log.Printf("[main] no artifacts match the given filters")
				return nil
			}
			log.Printf("[main] %d bugs to process", len(artifacts))

			wf, err := scheduler.NewWorkflow(cfg, provider, templatePath, localAnalysis)
			if err != nil {
				return fmt.Errorf("initialize workflow: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sum := &summary{Fixed: []string{}, Failed: []string{}, Errors: []string{}}
			for _, artifact := range artifacts {
				log.Printf("[main] STARTING REPAIR: %s", artifact.Identifier())

				outcome, err := wf.Repair(ctx, artifact, dataset)
				switch {
				case errors.Is(err, context.Canceled):
					log.Printf("[main] interrupted, saving progress")
				case err != nil:
					log.Printf("[main] error processing %s: %v", artifact.Identifier(), err)
					sum.Errors = append(sum.Errors, artifact.Identifier())
					continue
				case outcome.Fixed():
					log.Printf("[main] FIXED: %s", artifact.Identifier())
					sum.Fixed = append(sum.Fixed, artifact.Identifier())
					continue
				default:
					log.Printf("[main] FAILED: %s", artifact.Identifier())
					sum.Failed = append(sum.Failed, artifact.Identifier())
					continue
				}
				break
			}

			log.Printf("[main] EXECUTION SUMMARY: processed: %d, fixed: %d, failed: %d, errors: %d",
				len(sum.Fixed)+len(sum.Failed)+len(sum.Errors),
				len(sum.Fixed), len(sum.Failed), len(sum.Errors))

			return writeSummary(outputDir, sum)
		},
	}
	repairCmd.Flags().StringVar(&manifestPath, "manifest", "", "Input manifest JSON (required)")
	repairCmd.Flags().StringVar(&projectFilter, "project", "", "Only repair bugs of this project")
	repairCmd.Flags().StringVar(&bugFilter, "bug", "", "Only repair this bug id")
	repairCmd.Flags().StringVar(&provider, "provider", "", "LLM provider override")
	repairCmd.Flags().StringVar(&dataset, "dataset", "defects4j", "Dataset family (defects4j, quixbugs)")
	repairCmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for summaries (default: from config)")
	repairCmd.Flags().StringVar(&templatePath, "templates", "", "Prompt template file (default: built-in)")
	repairCmd.Flags().BoolVar(&localAnalysis, "local-analysis", false, "Force the tree-sitter engine even if a graph engine is installed")
	_ = repairCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(repairCmd)

	// --- context command ---
	var mixed bool
	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Print the code context a repair session would see",
		Long:  "Builds and prints the dependency slices and structural skeleton for one artifact without calling a model.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			artifacts, err := loader.LoadManifest(manifestPath, loader.Filter{
				Project: projectFilter,
				BugID:   bugFilter,
			})
			if err != nil {
				return err
			}
			if len(artifacts) == 0 {
				return fmt.Errorf("no artifacts match the given filters")
			}
			artifact := artifacts[0]

			wf, err := scheduler.NewWorkflow(cfg, provider, templatePath, localAnalysis)
			if err != nil {
				return err
			}

			if mixed {
				view, err := wf.BuildMixedContext(cmd.Context(), artifact)
				if err != nil {
					return err
				}
				fmt.Printf("== Mixed view for %s ==\n%s\n", artifact.Identifier(), view)
				return nil
			}

			depCtx := wf.BuildContext(cmd.Context(), artifact)
			fmt.Printf("== Data dependency slice ==\n%s\n\n", depCtx.DataDependencySlice)
			fmt.Printf("== Control dependency slice ==\n%s\n\n", depCtx.ControlDependencySlice)
			fmt.Printf("== Peripheral skeleton ==\n%s\n", depCtx.PeripheralContext)
			return nil
		},
	}
	contextCmd.Flags().StringVar(&manifestPath, "manifest", "", "Input manifest JSON (required)")
	contextCmd.Flags().StringVar(&projectFilter, "project", "", "Project filter")
	contextCmd.Flags().StringVar(&bugFilter, "bug", "", "Bug id filter")
	contextCmd.Flags().BoolVar(&mixed, "mixed", false, "Print the blended slice+skeleton view")
	contextCmd.Flags().BoolVar(&localAnalysis, "local-analysis", false, "Force the tree-sitter engine")
	_ = contextCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(contextCmd)

	return rootCmd
}

func writeSummary(outputDir string, sum *summary) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, "execution_summary.json")

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	log.Printf("[main] summary saved to %s", path)
	return nil
}
