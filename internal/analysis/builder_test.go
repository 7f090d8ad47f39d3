package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"patchloop/internal/config"
	"patchloop/internal/core"
)

// fakeEngine serves canned script output keyed on a script-name substring.
type fakeEngine struct {
	prepareErr error
	outputs    map[string]string
	scriptErr  error
}

func (f *fakeEngine) Prepare(ctx context.Context, artifact *core.Artifact, cacheDir string) error {
	return f.prepareErr
}

func (f *fakeEngine) RunScript(ctx context.Context, script string, params map[string]string) (string, error) {
	if f.scriptErr != nil {
		return "", f.scriptErr
	}
	for key, out := range f.outputs {
		if strings.Contains(script, key) {
			return out, nil
		}
	}
	return "[]", nil
}

var testScripts = config.GraphScripts{
	DataDep:    "scripts/data_dep.sc",
	ControlDep: "scripts/control_dep.sc",
	Structure:  "scripts/ast_structure.sc",
}

func testArtifact() *core.Artifact {
	return &core.Artifact{
		ProjectName: "Chart",
		BugID:       "1",
		FilePath:    "Plot.java",
		MethodName:  "getDataset",
		BuggyLineNo: 3,
		SourceCode:  "line one\nline two\nline three\nline four\nline five",
		Language:    "java",
	}
}

func TestBuildRendersSlices(t *testing.T) {
	engine := &fakeEngine{outputs: map[string]string{
		"data_dep":      "[1, 5]",
		"control_dep":   "[2]",
		"ast_structure": `[{"startLine": 1, "endLine": 5}]`,
	}}

	dc, err := NewContextBuilder(engine, testScripts).Build(context.Background(), testArtifact(), t.TempDir())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if want := "line one\nline three\nline five"; dc.DataDependencySlice != want {
		t.Errorf("data slice = %q, want %q", dc.DataDependencySlice, want)
	}
	if want := "line two\nline three"; dc.ControlDependencySlice != want {
		t.Errorf("control slice = %q, want %q", dc.ControlDependencySlice, want)
	}
	if !strings.Contains(dc.PeripheralContext, Placeholder) {
		t.Errorf("peripheral context should collapse the range: %q", dc.PeripheralContext)
	}
}

func TestBuildAlwaysIncludesDefectLine(t *testing.T) {
	engine := &fakeEngine{outputs: map[string]string{
		"data_dep":    "[]",
		"control_dep": "[]",
	}}

	dc, err := NewContextBuilder(engine, testScripts).Build(context.Background(), testArtifact(), t.TempDir())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dc.DataDependencySlice != "line three" || dc.ControlDependencySlice != "line three" {
		t.Errorf("defect line must survive empty query results, got %q / %q",
			dc.DataDependencySlice, dc.ControlDependencySlice)
	}
}

func TestBuildDegradesOnQueryFailure(t *testing.T) {
	engine := &fakeEngine{scriptErr: errors.New("joern crashed")}

	dc, err := NewContextBuilder(engine, testScripts).Build(context.Background(), testArtifact(), t.TempDir())
	if err != nil {
		t.Fatalf("query failure must not abort the build: %v", err)
	}
	if dc.DataDependencySlice != "line three" {
		t.Errorf("failed query should degrade to the defect line, got %q", dc.DataDependencySlice)
	}
	if dc.PeripheralContext != testArtifact().SourceCode {
		t.Errorf("failed structure query should leave the source uncollapsed")
	}
}

func TestBuildPrepareFailureIsFatal(t *testing.T) {
	engine := &fakeEngine{prepareErr: errors.New("cpg generation failed")}

	if _, err := NewContextBuilder(engine, testScripts).Build(context.Background(), testArtifact(), t.TempDir()); err == nil {
		t.Fatal("expected error from failed Prepare")
	}
}

func TestBuildMixedUnionsSlices(t *testing.T) {
	engine := &fakeEngine{outputs: map[string]string{
		"data_dep":      "[2]",
		"control_dep":   "[4]",
		"ast_structure": `[{"startLine": 1, "endLine": 5}]`,
	}}

	got, err := NewContextBuilder(engine, testScripts).BuildMixed(context.Background(), testArtifact(), t.TempDir())
	if err != nil {
		t.Fatalf("BuildMixed: %v", err)
	}
	for _, want := range []string{"line two", "line three", "line four"} {
		if !strings.Contains(got, want) {
			t.Errorf("mixed view missing kept line %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, Placeholder) {
		t.Errorf("every interior line is kept, nothing should collapse:\n%s", got)
	}
}
