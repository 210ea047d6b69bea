package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ExecResult holds the outcome of a shell command.
type ExecResult struct {
	Output   string // interleaved stdout and stderr
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// sensitiveEnvSuffixes mark variables kept out of child processes.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// filterEnvironment returns environ without credentials.
func filterEnvironment(environ []string) []string {
	filtered := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || isSensitiveEnvVar(name) {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

// Environment is the local machine as seen by the tools: a working
// directory that relative paths resolve against and a shell.
type Environment struct {
	workDir string
	shell   string
	log     *slog.Logger
}

// NewEnvironment creates an Environment rooted at workDir, defaulting to the
// process working directory.
func NewEnvironment(workDir string, log *slog.Logger) *Environment {
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	if log == nil {
		log = slog.Default()
	}
	shell := "/bin/bash"
	if _, err := os.Stat(shell); err != nil {
		shell = "/bin/sh"
	}
	return &Environment{workDir: workDir, shell: shell, log: log}
}

// WorkDir returns the directory relative paths resolve against.
func (e *Environment) WorkDir() string { return e.workDir }

func (e *Environment) resolvePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

// outputBuffer collects command output and forwards each chunk.
type outputBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	onWrite func(total string)
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n, _ := b.buf.Write(p)
	total := b.buf.String()
	b.mu.Unlock()
	if b.onWrite != nil {
		b.onWrite(total)
	}
	return n, nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Exec runs command in the shell from the working directory. The command
// runs in its own process group, which is killed when ctx ends or timeout
// elapses. onOutput, if set, receives the output collected so far after
// every write. A cancelled ctx returns the partial result with ctx.Err().
func (e *Environment) Exec(ctx context.Context, command string, timeout time.Duration, onOutput func(total string)) (*ExecResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.shell, "-c", command)
	cmd.Dir = e.workDir
	cmd.Env = filterEnvironment(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	out := &outputBuffer{onWrite: onOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{Output: out.String(), Duration: time.Since(start)}
	if err == nil {
		return result, nil
	}

	switch {
	case ctx.Err() != nil:
		result.ExitCode = -1
		return result, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		e.log.Debug("command timed out", "command", command, "timeout", timeout)
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("exec: %w", err)
}
