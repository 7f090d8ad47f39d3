package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path"
	"sort"
	"strings"
	"time"
)

// ExecResult is the outcome of one command run inside the sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sandbox is an exclusively-owned execution environment for one repair
// session: created before round 1, closed after the last round.
type Sandbox interface {
	Exec(ctx context.Context, cmd, workdir string, timeout time.Duration) (*ExecResult, error)
	WriteFile(ctx context.Context, filePath, content string) error
	ReadFile(ctx context.Context, filePath string) (string, error)
	Close() error
}

// DockerSandbox runs commands in a long-lived container via the docker CLI.
type DockerSandbox struct {
	id       string
	image    string
	memLimit string
	cpus     string
}

// StartDockerSandbox starts a detached container kept alive for the session.
// volumes maps host paths to container mount points.
func StartDockerSandbox(ctx context.Context, image string, volumes map[string]string, workdir string) (*DockerSandbox, error) {
	s := &DockerSandbox{image: image, memLimit: "4g", cpus: "2"}

	args := []string{"run", "-d",
		"--memory", s.memLimit, "--cpus", s.cpus}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	hosts := make([]string, 0, len(volumes))
	for h := range volumes {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		args = append(args, "-v", h+":"+volumes[h])
	}
	args = append(args, image, "tail", "-f", "/dev/null")

	log.Printf("[sandbox] starting container from image %s", image)
	out, err := runDocker(ctx, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}
	s.id = strings.TrimSpace(out)
	if s.id == "" {
		return nil, fmt.Errorf("docker run returned no container id")
	}
	return s, nil
}

// Exec runs a shell command inside the container, capturing exit code and
// both output streams. A non-zero exit is reported in the result, not as an
// error; errors mean the command could not be executed at all.
func (s *DockerSandbox) Exec(ctx context.Context, cmd, workdir string, timeout time.Duration) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, s.id, "/bin/sh", "-c", cmd)

	c := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("docker exec: %w", err)
	}
	return res, nil
}

// WriteFile writes content to a path inside the container, creating parent
// directories as needed.
func (s *DockerSandbox) WriteFile(ctx context.Context, filePath, content string) error {
	dir := path.Dir(filePath)
	cmd := fmt.Sprintf("mkdir -p %q && cat > %q", dir, filePath)
	_, err := runDocker(ctx, strings.NewReader(content),
		"exec", "-i", s.id, "/bin/sh", "-c", cmd)
	if err != nil {
		return fmt.Errorf("write %s in container: %w", filePath, err)
	}
	return nil
}

// ReadFile reads a file's content from inside the container.
func (s *DockerSandbox) ReadFile(ctx context.Context, filePath string) (string, error) {
	out, err := runDocker(ctx, nil, "exec", s.id, "cat", filePath)
	if err != nil {
		return "", fmt.Errorf("read %s in container: %w", filePath, err)
	}
	return out, nil
}

// Close stops and removes the container.
func (s *DockerSandbox) Close() error {
	if s.id == "" {
		return nil
	}
	log.Printf("[sandbox] removing container %.12s", s.id)
	_, err := runDocker(context.Background(), nil, "rm", "-f", s.id)
	s.id = ""
	return err
}

func runDocker(ctx context.Context, stdin *strings.Reader, args ...string) (string, error) {
	c := exec.CommandContext(ctx, "docker", args...)
	if stdin != nil {
		c.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return stdout.String(), fmt.Errorf("docker %s: %w (stderr: %s)",
			args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
