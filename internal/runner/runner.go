package runner

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"patchloop/internal/config"
	"patchloop/internal/core"
	"patchloop/internal/sandbox"
)

// defects4jProjects are the project families driven by the defects4j CLI.
var defects4jProjects = map[string]bool{
	"Chart": true, "Cli": true, "Closure": true, "Codec": true,
	"Collections": true, "Compress": true, "Csv": true, "Gson": true,
	"JacksonCore": true, "JacksonDatabind": true, "JacksonXml": true,
	"Jsoup": true, "JxPath": true, "Lang": true, "Math": true,
	"Mockito": true, "Time": true,
}

// Validator compiles and runs the test oracle for a candidate patch inside
// the session sandbox and reduces the output to a ValidationResult.
type Validator struct {
	datasets config.DatasetsConfig
	box      sandbox.Sandbox
	timeout  time.Duration
}

// NewValidator binds a validator to one sandbox.
func NewValidator(datasets config.DatasetsConfig, box sandbox.Sandbox) *Validator {
	return &Validator{datasets: datasets, box: box, timeout: 5 * time.Minute}
}

// Validate runs the project family's test strategy. Infrastructure failures
// are captured as failing results so the round loop can continue.
func (v *Validator) Validate(ctx context.Context, artifact *core.Artifact) *core.ValidationResult {
	start := time.Now()
	var result *core.ValidationResult

	switch {
	case defects4jProjects[artifact.ProjectName]:
		result = v.runDefects4j(ctx, artifact)
	case strings.Contains(strings.ToLower(artifact.ProjectName), "quixbugs"):
		result = v.runQuixBugs(ctx, artifact)
	default:
		log.Printf("[runner] unknown project family %s, trying gradle", artifact.ProjectName)
		result = v.runGradle(ctx, artifact)
	}

	result.ExecutionSecs = time.Since(start).Seconds()
	return result
}

func (v *Validator) runDefects4j(ctx context.Context, artifact *core.Artifact) *core.ValidationResult {
	cfg := v.datasets["defects4j"]
	workDir := fmt.Sprintf("%s/%s_%s", cfg.WorkDir, artifact.ProjectName, artifact.BugID)

	compileCmd := cfg.CompileCmd
	if compileCmd == "" {
		compileCmd = "defects4j compile"
	}
	res, err := v.box.Exec(ctx, compileCmd, workDir, v.timeout)
	if err != nil {
		return infraFailure(err)
	}
	if res.ExitCode != 0 {
		return &core.ValidationResult{
			Passed:         false,
			ErrorMessage:   cleanCompileError(res.Stderr + res.Stdout),
			FailedTestName: "Compilation",
		}
	}

	testCmd := cfg.TestCmd
	if testCmd == "" {
		testCmd = "defects4j test"
	}
	res, err = v.box.Exec(ctx, testCmd, workDir, v.timeout)
	if err != nil {
		return infraFailure(err)
	}
	return parseDefects4jOutput(res.Stdout, res.Stderr)
}

var (
	failingCountRe = regexp.MustCompile(`Failing tests: (\d+)`)
	failingTestRe  = regexp.MustCompile(`(?m)^\s*-\s+(.*)$`)
)

func parseDefects4jOutput(stdout, stderr string) *core.ValidationResult {
	if strings.Contains(stdout, "Failing tests: 0") {
		return &core.ValidationResult{Passed: true}
	}

	if m := failingCountRe.FindStringSubmatch(stdout); m != nil {
		count, _ := strconv.Atoi(m[1])
		firstTest := "UnknownTest"
		if t := failingTestRe.FindStringSubmatch(stdout); t != nil {
			firstTest = strings.TrimSpace(t[1])
		}
		msg := fmt.Sprintf("Defects4J reported %d failures.", count)
		if stderr != "" {
			msg += "\nOutput:\n" + head(stderr, 1000)
		}
		return &core.ValidationResult{
			Passed:         false,
			ErrorMessage:   msg,
			FailedTestName: firstTest,
		}
	}

	return &core.ValidationResult{
		Passed: false,
		ErrorMessage: fmt.Sprintf("Defects4J execution failed unexpectedly:\n%s\n%s",
			stderr, head(stdout, 500)),
		FailedTestName: "ExecutionError",
	}
}

var gradleFailedRe = regexp.MustCompile(`((?:[a-zA-Z_0-9]+\.)+[a-zA-Z_0-9]+)\s+>\s+([a-zA-Z_0-9]+)\s+FAILED`)

func (v *Validator) runGradle(ctx context.Context, artifact *core.Artifact) *core.ValidationResult {
	res, err := v.box.Exec(ctx, "./gradlew test --info", "/workspace", v.timeout)
	if err != nil {
		return infraFailure(err)
	}
	if res.ExitCode == 0 {
		return &core.ValidationResult{Passed: true}
	}
	return parseGradleOutput(res.Stdout)
}

func parseGradleOutput(stdout string) *core.ValidationResult {
	failedTest := "UnknownTest"
	if m := gradleFailedRe.FindStringSubmatch(stdout); m != nil {
		failedTest = m[1] + "::" + m[2]
	}

	var errorLines []string
	capture := false
	for _, line := range strings.Split(stdout, "\n") {
		if strings.Contains(line, "FAILED") {
			capture = true
		}
		if capture {
			trimmed := strings.TrimSpace(line)
			if strings.Contains(trimmed, "Exception") ||
				strings.Contains(trimmed, "Error") ||
				strings.HasPrefix(trimmed, "at ") {
				errorLines = append(errorLines, trimmed)
			}
			if len(errorLines) > 5 {
				break
			}
		}
	}

	msg := "Tests failed (check logs)"
	if len(errorLines) > 0 {
		msg = strings.Join(errorLines, "\n")
	}
	return &core.ValidationResult{
		Passed:         false,
		ErrorMessage:   msg,
		FailedTestName: failedTest,
	}
}

func (v *Validator) runQuixBugs(ctx context.Context, artifact *core.Artifact) *core.ValidationResult {
	cfg := v.datasets["quixbugs"]
	cmd := cfg.TestCmd
	if cmd == "" {
		cmd = "python3 scripts/run_quixbugs_test.py --bug {bug_id}"
	}
	cmd = strings.ReplaceAll(cmd, "{bug_id}", artifact.BugID)

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "/workspace"
	}

	res, err := v.box.Exec(ctx, cmd, workDir, v.timeout)
	if err != nil {
		return infraFailure(err)
	}
	if res.ExitCode == 0 {
		return &core.ValidationResult{Passed: true}
	}

	output := strings.TrimSpace(res.Stderr + res.Stdout)
	if output == "" {
		return &core.ValidationResult{
			Passed:         false,
			ErrorMessage:   "Empty error output",
			FailedTestName: "Unknown",
		}
	}
	return &core.ValidationResult{
		Passed:         false,
		ErrorMessage:   tail(output, 1000),
		FailedTestName: "QuixBugs_Test_Case",
	}
}

// cleanCompileError keeps the first few compiler error lines, or the output
// tail when nothing matched.
func cleanCompileError(output string) string {
	var errLines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "error:") || strings.Contains(line, "Error:") {
			errLines = append(errLines, line)
			if len(errLines) == 5 {
				break
			}
		}
	}
	if len(errLines) > 0 {
		return strings.Join(errLines, "\n")
	}
	return tail(output, 500)
}

func infraFailure(err error) *core.ValidationResult {
	log.Printf("[runner] test execution error: %v", err)
	return &core.ValidationResult{
		Passed:         false,
		ErrorMessage:   "Internal Runner Error: " + err.Error(),
		FailedTestName: "Infrastructure",
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
