package analysis

import (
	"context"
	"fmt"
	"log"

	"patchloop/internal/config"
	"patchloop/internal/core"
)

// ContextBuilder runs the dependency and structural queries for one artifact
// and assembles the layered context used by the prompt composer.
type ContextBuilder struct {
	engine   QueryEngine
	data     *LineSetSlicer
	control  *LineSetSlicer
	skeleton *SkeletonRangeExtractor
}

// NewContextBuilder wires slicers and the skeleton extractor to one engine.
func NewContextBuilder(engine QueryEngine, scripts config.GraphScripts) *ContextBuilder {
	return &ContextBuilder{
		engine:   engine,
		data:     NewLineSetSlicer(engine, scripts.DataDep, "data"),
		control:  NewLineSetSlicer(engine, scripts.ControlDep, "control"),
		skeleton: NewSkeletonRangeExtractor(engine, scripts.Structure),
	}
}

// Build prepares the engine for the artifact and produces the dependency
// context. Individual query failures degrade to smaller renderings; only a
// failed Prepare is reported as an error, and the caller is expected to
// proceed with an empty context in that case.
func (b *ContextBuilder) Build(ctx context.Context, artifact *core.Artifact, cacheDir string) (*core.DependencyContext, error) {
	if err := b.engine.Prepare(ctx, artifact, cacheDir); err != nil {
		return nil, fmt.Errorf("prepare analysis for %s: %w", artifact.Identifier(), err)
	}

	dataLines := b.data.Lines(ctx, artifact)
	controlLines := b.control.Lines(ctx, artifact)

	// The defect's own line is never elided, whatever the queries returned.
	dataLines[artifact.BuggyLineNo] = true
	controlLines[artifact.BuggyLineNo] = true

	ranges := b.skeleton.Ranges(ctx, artifact)

	return &core.DependencyContext{
		DataDependencySlice:    RenderLines(artifact.SourceCode, dataLines),
		ControlDependencySlice: RenderLines(artifact.SourceCode, controlLines),
		PeripheralContext:      Skeleton(artifact.SourceCode, ranges),
	}, nil
}

// BuildMixed blends both signals into one view: slice-union lines stay
// verbatim while everything else inside a structural range collapses.
func (b *ContextBuilder) BuildMixed(ctx context.Context, artifact *core.Artifact, cacheDir string) (string, error) {
	if err := b.engine.Prepare(ctx, artifact, cacheDir); err != nil {
		return "", fmt.Errorf("prepare analysis for %s: %w", artifact.Identifier(), err)
	}

	keep := b.data.Lines(ctx, artifact)
	for n := range b.control.Lines(ctx, artifact) {
		keep[n] = true
	}
	keep[artifact.BuggyLineNo] = true

	ranges := b.skeleton.Ranges(ctx, artifact)
	log.Printf("[builder] mixed view: %d kept lines, %d ranges", len(keep), len(ranges))

	return Stitch(artifact.SourceCode, keep, ranges), nil
}
