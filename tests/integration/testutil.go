// Package integration runs the databind binary end to end.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var (
	// databindBin is the path to the built databind binary.
	databindBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot finds the project root by walking up and looking for go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// TestEnv provides an isolated test environment with its own config and data directory.
type TestEnv struct {
	t       *testing.T
	TempDir string
	Config  string
	DataDir string
}

// NewTestEnv creates a new isolated test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if buildErr != nil {
		t.Fatalf("failed to build databind: %v", buildErr)
	}
	if databindBin == "" {
		t.Fatal("databind binary not built")
	}
	tempDir := t.TempDir()
	return &TestEnv{
		t:       t,
		TempDir: tempDir,
		Config:  filepath.Join(tempDir, "config"),
		DataDir: filepath.Join(tempDir, "data"),
	}
}

// CmdResult holds the result of a databind command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *TestEnv) command(args ...string) *exec.Cmd {
	all := append([]string{"--config-dir", e.Config, "--data-dir", e.DataDir}, args...)
	cmd := exec.Command(databindBin, all...)
	cmd.Dir = e.TempDir
	return cmd
}

// Run executes databind with the given arguments.
func (e *TestEnv) Run(args ...string) CmdResult {
	e.t.Helper()
	cmd := e.command(args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			e.t.Fatalf("failed to run databind: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return CmdResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
}

// MustRun executes databind and fails the test if it returns non-zero.
func (e *TestEnv) MustRun(args ...string) CmdResult {
	e.t.Helper()
	result := e.Run(args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("databind %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// WriteFile writes content under the environment's temp directory and
// returns its path.
func (e *TestEnv) WriteFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.TempDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// Process is a databind command running in the background. Its stdout is
// delivered line by line.
type Process struct {
	t       *testing.T
	cmd     *exec.Cmd
	lines   chan string
	done    chan error
	stopped bool
}

// Start runs databind in the background. The process is interrupted when
// the test ends.
func (e *TestEnv) Start(args ...string) *Process {
	e.t.Helper()
	cmd := e.command(args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.t.Fatalf("stdout pipe: %v", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		e.t.Fatalf("start databind %v: %v", args, err)
	}

	p := &Process{t: e.t, cmd: cmd, lines: make(chan string, 64), done: make(chan error, 1)}
	go func() {
		scan(stdout, p.lines)
		p.done <- cmd.Wait()
	}()
	e.t.Cleanup(func() {
		if !p.stopped {
			p.Stop()
		}
		if e.t.Failed() {
			e.t.Logf("databind %v stderr:\n%s", args, stderr.String())
		}
	})
	return p
}

func scan(r io.Reader, lines chan<- string) {
	defer close(lines)
	s := bufio.NewScanner(r)
	for s.Scan() {
		lines <- s.Text()
	}
}

// WaitFor returns the first stdout line containing substr.
func (p *Process) WaitFor(substr string, timeout time.Duration) string {
	p.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				p.t.Fatalf("databind exited before printing %q", substr)
			}
			if strings.Contains(line, substr) {
				return line
			}
		case <-deadline:
			p.t.Fatalf("timed out waiting for %q", substr)
		}
	}
}

// Next returns the next stdout line, or false when none arrives in time.
func (p *Process) Next(timeout time.Duration) (string, bool) {
	select {
	case line, ok := <-p.lines:
		return line, ok
	case <-time.After(timeout):
		return "", false
	}
}

// Stop interrupts the process and waits for it to exit. Call it once.
func (p *Process) Stop() error {
	p.stopped = true
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case err := <-p.done:
		return err
	case <-time.After(10 * time.Second):
		_ = p.cmd.Process.Kill()
		return <-p.done
	}
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, jsonStr string) T {
	t.Helper()
	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", jsonStr, err)
	}
	return result
}

// Listing is the JSON output of query, fetch and scan.
type Listing struct {
	Data  []map[string]any `json:"data"`
	Total int              `json:"total"`
}

// Names returns the name field of every record.
func (l Listing) Names() []string {
	out := make([]string, len(l.Data))
	for i, rec := range l.Data {
		out[i], _ = rec["name"].(string)
	}
	return out
}
