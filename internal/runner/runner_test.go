package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"patchloop/internal/config"
	"patchloop/internal/core"
	"patchloop/internal/sandbox"
)

// fakeSandbox serves canned exec results keyed on a command substring.
type fakeSandbox struct {
	results map[string]*sandbox.ExecResult
	err     error
	execLog []string
}

func (f *fakeSandbox) Exec(ctx context.Context, cmd, workdir string, timeout time.Duration) (*sandbox.ExecResult, error) {
	f.execLog = append(f.execLog, cmd)
	if f.err != nil {
		return nil, f.err
	}
	for key, res := range f.results {
		if strings.Contains(cmd, key) {
			return res, nil
		}
	}
	return &sandbox.ExecResult{ExitCode: 0}, nil
}

func (f *fakeSandbox) WriteFile(ctx context.Context, path, content string) error { return nil }
func (f *fakeSandbox) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (f *fakeSandbox) Close() error                                              { return nil }

func testDatasets() config.DatasetsConfig {
	return config.Default().Datasets
}

func TestParseDefects4jOutput(t *testing.T) {
	if res := parseDefects4jOutput("Running ...\nFailing tests: 0\n", ""); !res.Passed {
		t.Errorf("zero failures should pass, got %+v", res)
	}

	out := "Failing tests: 2\n  - org.jfree.chart.plot.PlotTest::testEquals\n  - org.jfree.chart.plot.PlotTest::testClone\n"
	res := parseDefects4jOutput(out, "")
	if res.Passed {
		t.Fatal("failures reported as pass")
	}
	if res.FailedTestName != "org.jfree.chart.plot.PlotTest::testEquals" {
		t.Errorf("first failing test = %q", res.FailedTestName)
	}
	if !strings.Contains(res.ErrorMessage, "2 failures") {
		t.Errorf("message = %q", res.ErrorMessage)
	}

	res = parseDefects4jOutput("garbage", "cannot export project")
	if res.Passed || res.FailedTestName != "ExecutionError" {
		t.Errorf("unparseable output should fail as ExecutionError, got %+v", res)
	}
}

func TestDefects4jCompileFailure(t *testing.T) {
	box := &fakeSandbox{results: map[string]*sandbox.ExecResult{
		"compile": {ExitCode: 1, Stderr: "Plot.java:12: error: ';' expected\nsome noise\nPlot.java:30: error: cannot find symbol\n"},
	}}
	v := NewValidator(testDatasets(), box)

	res := v.Validate(context.Background(), &core.Artifact{ProjectName: "Chart", BugID: "1"})
	if res.Passed {
		t.Fatal("compile failure reported as pass")
	}
	if res.FailedTestName != "Compilation" {
		t.Errorf("FailedTestName = %q", res.FailedTestName)
	}
	if !strings.Contains(res.ErrorMessage, "';' expected") || strings.Contains(res.ErrorMessage, "some noise") {
		t.Errorf("compile errors not distilled: %q", res.ErrorMessage)
	}
	if len(box.execLog) != 1 {
		t.Errorf("tests must not run after a failed compile, ran %v", box.execLog)
	}
}

func TestDefects4jPassingRun(t *testing.T) {
	box := &fakeSandbox{results: map[string]*sandbox.ExecResult{
		"compile": {ExitCode: 0},
		"test":    {ExitCode: 0, Stdout: "Failing tests: 0\n"},
	}}
	v := NewValidator(testDatasets(), box)

	res := v.Validate(context.Background(), &core.Artifact{ProjectName: "Math", BugID: "5"})
	if !res.Passed {
		t.Errorf("expected pass, got %+v", res)
	}
	if res.ExecutionSecs < 0 {
		t.Errorf("ExecutionSecs = %f", res.ExecutionSecs)
	}
}

func TestParseGradleOutput(t *testing.T) {
	out := `> Task :test
com.example.CalcTest > testDivideByZero FAILED
    java.lang.ArithmeticException: / by zero
        at com.example.Calc.divide(Calc.java:12)
`
	res := parseGradleOutput(out)
	if res.Passed {
		t.Fatal("FAILED output reported as pass")
	}
	if res.FailedTestName != "com.example.CalcTest::testDivideByZero" {
		t.Errorf("FailedTestName = %q", res.FailedTestName)
	}
	if !strings.Contains(res.ErrorMessage, "ArithmeticException") {
		t.Errorf("exception line not captured: %q", res.ErrorMessage)
	}
}

func TestQuixBugsSubstitutesBugID(t *testing.T) {
	box := &fakeSandbox{results: map[string]*sandbox.ExecResult{
		"run_quixbugs_test.py --bug quicksort": {ExitCode: 1, Stdout: "AssertionError: [3, 1] != [1, 3]"},
	}}
	v := NewValidator(testDatasets(), box)

	res := v.Validate(context.Background(), &core.Artifact{ProjectName: "QuixBugs-Python", BugID: "quicksort"})
	if res.Passed {
		t.Fatal("failing exit code reported as pass")
	}
	if res.FailedTestName != "QuixBugs_Test_Case" {
		t.Errorf("FailedTestName = %q", res.FailedTestName)
	}
	if !strings.Contains(res.ErrorMessage, "AssertionError") {
		t.Errorf("ErrorMessage = %q", res.ErrorMessage)
	}
	if len(box.execLog) != 1 || !strings.Contains(box.execLog[0], "--bug quicksort") {
		t.Errorf("bug id not substituted into the command: %v", box.execLog)
	}
}

func TestInfrastructureFailureIsNonFatal(t *testing.T) {
	box := &fakeSandbox{err: errors.New("docker daemon unreachable")}
	v := NewValidator(testDatasets(), box)

	res := v.Validate(context.Background(), &core.Artifact{ProjectName: "Chart", BugID: "3"})
	if res.Passed {
		t.Fatal("infrastructure failure reported as pass")
	}
	if res.FailedTestName != "Infrastructure" {
		t.Errorf("FailedTestName = %q", res.FailedTestName)
	}
	if !strings.Contains(res.ErrorMessage, "Internal Runner Error") {
		t.Errorf("ErrorMessage = %q", res.ErrorMessage)
	}
}

func TestCleanCompileError(t *testing.T) {
	many := strings.Repeat("A.java:1: error: x\n", 10)
	got := cleanCompileError(many)
	if strings.Count(got, "error:") != 5 {
		t.Errorf("should keep at most 5 error lines, got %q", got)
	}

	long := strings.Repeat("z", 600)
	got = cleanCompileError(long)
	if len(got) != 500 {
		t.Errorf("no error lines should fall back to a 500-byte tail, got %d bytes", len(got))
	}
}
