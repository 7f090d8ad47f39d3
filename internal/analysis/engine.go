package analysis

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"patchloop/internal/config"
	"patchloop/internal/core"
)

// QueryEngine answers dependency/structural queries about one artifact.
// Prepare is called once per session before any query; RunScript returns raw
// text whose tail contains a JSON-array payload; everything else in the
// output is diagnostic noise the callers ignore.
type QueryEngine interface {
	Prepare(ctx context.Context, artifact *core.Artifact, cacheDir string) error
	RunScript(ctx context.Context, script string, params map[string]string) (string, error)
}

// JoernBridge drives an external Joern installation through its CLI.
type JoernBridge struct {
	cfg     config.GraphConfig
	cpgPath string
}

// NewJoernBridge creates a bridge for the configured installation.
func NewJoernBridge(cfg config.GraphConfig) *JoernBridge {
	if cfg.CLICommand == "" {
		cfg.CLICommand = "joern"
	}
	return &JoernBridge{cfg: cfg}
}

// Available reports whether the CLI can be found on PATH.
func (b *JoernBridge) Available() bool {
	_, err := exec.LookPath(b.cfg.CLICommand)
	return err == nil
}

// Prepare generates the code property graph for the artifact's enclosing
// directory and remembers its path for subsequent queries.
func (b *JoernBridge) Prepare(ctx context.Context, artifact *core.Artifact, cacheDir string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cpg dir: %w", err)
	}
	cpgPath := filepath.Join(cacheDir, "cpg.bin")
	projectRoot := filepath.Dir(artifact.FilePath)

	log.Printf("[graph] generating CPG for %s", projectRoot)
	out, err := b.run(ctx, b.cfg.CLICommand+"-parse",
		projectRoot, "--language", artifact.Language, "--output", cpgPath)
	if err != nil {
		return fmt.Errorf("cpg generation: %w (output: %s)", err, tail(out, 500))
	}
	if _, err := os.Stat(cpgPath); err != nil {
		return fmt.Errorf("cpg not created at %s", cpgPath)
	}
	b.cpgPath = cpgPath
	return nil
}

// RunScript executes one query script against the prepared CPG, passing
// parameters as --param key=value pairs, and returns captured stdout.
func (b *JoernBridge) RunScript(ctx context.Context, script string, params map[string]string) (string, error) {
	if b.cpgPath == "" {
		return "", fmt.Errorf("no CPG prepared")
	}

	args := []string{"--script", script, "--param", "cpgFile=" + b.cpgPath}

	// Sorted for reproducible command lines in logs.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--param", fmt.Sprintf("%s=%s", k, params[k]))
	}

	log.Printf("[graph] running %s %v", b.cfg.CLICommand, args)
	return b.run(ctx, b.cfg.CLICommand, args...)
}

func (b *JoernBridge) run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := time.Duration(b.cfg.ScriptTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "JAVA_OPTS="+b.cfg.JavaOpts)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w (stderr: %s)", name, err, tail(stderr.String(), 500))
	}
	return stdout.String(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
