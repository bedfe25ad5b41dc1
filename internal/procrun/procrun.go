// Package procrun executes external build tools, streaming their output
// line-by-line as it is produced so a user watching a long build sees
// progress and failures as they happen.
package procrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
)

// LineFunc receives one output line, without its trailing newline. A partial
// trailing line is delivered when the process exits.
type LineFunc func(line string)

// Spec describes one external process invocation.
type Spec struct {
	Dir  string
	Env  []string // appended to the inherited environment
	Name string
	Args []string

	// Timeout bounds the process run; zero means no limit. Expiry is a hard
	// failure, never silently retried.
	Timeout time.Duration

	Stdout LineFunc
	Stderr LineFunc
}

// ExitError reports a non-zero process exit.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
}

// Runner runs external processes. The zero value is usable.
type Runner struct {
	// BaseEnv replaces the inherited environment when non-nil (tests).
	BaseEnv []string
}

// Run executes the process to completion and returns nil on a zero exit.
// Stdout and stderr are delivered to the callbacks line-by-line as they
// arrive.
func (r *Runner) Run(ctx context.Context, spec Spec) error {
	if spec.Name == "" {
		return errors.New("procrun: empty command name")
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	base := r.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = append(append([]string(nil), base...), spec.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	slog.Debug("Running external command", logfields.Command(spec.Name), logfields.Path(spec.Dir))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, spec.Stdout)
	go streamLines(&wg, stderr, spec.Stderr)
	wg.Wait()

	err = cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out after %s: %w", spec.Name, spec.Timeout, runCtx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Name: spec.Name, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("run %s: %w", spec.Name, err)
	}
	return nil
}

func streamLines(wg *sync.WaitGroup, rd io.Reader, fn LineFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
}
