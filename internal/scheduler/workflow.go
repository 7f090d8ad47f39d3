package scheduler

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"

	"patchloop/internal/analysis"
	"patchloop/internal/config"
	"patchloop/internal/core"
	"patchloop/internal/llm"
	"patchloop/internal/prompt"
	"patchloop/internal/runner"
	"patchloop/internal/sandbox"
)

// Workflow owns the session-independent components and runs one repair
// session per artifact: analysis, sandbox provisioning, round scheduling.
type Workflow struct {
	cfg      *config.Config
	provider llm.Provider
	retry    *llm.RetryPolicy
	composer *prompt.Composer
	files    *sandbox.FileManager

	// forceLocal skips the external graph engine even when installed.
	forceLocal bool
}

// NewWorkflow constructs the shared component stack. providerName and
// templatePath override the configured defaults when non-empty.
func NewWorkflow(cfg *config.Config, providerName, templatePath string, forceLocal bool) (*Workflow, error) {
	provider, err := llm.NewProvider(cfg.LLM, providerName)
	if err != nil {
		return nil, err
	}

	budget, err := llm.NewTokenBudget(provider.ModelName(), cfg.Limits)
	if err != nil {
		return nil, err
	}

	composer, err := prompt.NewComposer(templatePath, budget)
	if err != nil {
		return nil, err
	}

	files, err := sandbox.NewFileManager(cfg.Project.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	retry := llm.NewRetryPolicy(cfg.LLM.Retry)
	if _, local := provider.(*llm.OllamaProvider); local && retry.MaxAttempts > 2 {
		// A local service either answers or it doesn't; long backoff runs
		// just stall the batch.
		retry.MaxAttempts = 2
	}

	return &Workflow{
		cfg:        cfg,
		provider:   provider,
		retry:      retry,
		composer:   composer,
		files:      files,
		forceLocal: forceLocal,
	}, nil
}

// BuildContext runs the analysis phase for one artifact. A failed analysis
// degrades to an empty context; the repair session proceeds regardless.
func (w *Workflow) BuildContext(ctx context.Context, artifact *core.Artifact) *core.DependencyContext {
	builder := analysis.NewContextBuilder(w.queryEngine(), w.cfg.Graph.Scripts)
	cacheDir := filepath.Join(w.files.WorkspaceRoot(), "cpgs", artifact.Identifier())

	depCtx, err := builder.Build(ctx, artifact, cacheDir)
	if err != nil {
		log.Printf("[workflow] analysis failed: %v, proceeding with empty context", err)
		return &core.DependencyContext{}
	}
	return depCtx
}

// BuildMixedContext renders the blended slice+skeleton view for inspection.
func (w *Workflow) BuildMixedContext(ctx context.Context, artifact *core.Artifact) (string, error) {
	builder := analysis.NewContextBuilder(w.queryEngine(), w.cfg.Graph.Scripts)
	cacheDir := filepath.Join(w.files.WorkspaceRoot(), "cpgs", artifact.Identifier())
	return builder.BuildMixed(ctx, artifact, cacheDir)
}

func (w *Workflow) queryEngine() analysis.QueryEngine {
	bridge := analysis.NewJoernBridge(w.cfg.Graph)
	if w.forceLocal || !bridge.Available() {
		log.Printf("[workflow] using local tree-sitter analysis engine")
		return analysis.NewLocalEngine()
	}
	return bridge
}

// Repair runs one full repair session for the artifact. The dataset type
// selects the sandbox image and test strategy.
func (w *Workflow) Repair(ctx context.Context, artifact *core.Artifact, datasetType string) (*Outcome, error) {
	runID := uuid.NewString()[:8]
	log.Printf("[workflow] starting repair session %s for %s", runID, artifact.Identifier())

	session := &core.RepairSession{
		Artifact:     artifact,
		Context:      w.BuildContext(ctx, artifact),
		WorkspaceDir: w.files.WorkspaceRoot(),
	}
	if session.Context.Empty() {
		log.Printf("[workflow] empty dependency context for %s", artifact.Identifier())
	}

	dsCfg, ok := w.cfg.Datasets[datasetType]
	if !ok {
		return nil, fmt.Errorf("unknown dataset type: %s", datasetType)
	}
	image := dsCfg.Image
	if image == "" {
		image = "python:3.9"
	}

	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(artifact.FilePath)))
	volumes := map[string]string{projectRoot: "/workspace"}

	box, err := sandbox.StartDockerSandbox(ctx, image, volumes, "/workspace")
	if err != nil {
		return nil, fmt.Errorf("provision sandbox: %w", err)
	}
	defer func() {
		if err := box.Close(); err != nil {
			log.Printf("[workflow] sandbox cleanup: %v", err)
		}
	}()

	validator := runner.NewValidator(w.cfg.Datasets, box)
	sched := New(w.composer, w.provider, w.retry, w.files, validator, w.cfg.Strategy.MaxRounds)

	return sched.Run(ctx, session)
}
