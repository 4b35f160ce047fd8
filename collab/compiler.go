package collab

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/c360studio/semloop/orchestrator"
)

// maxDiagnostics caps the errors and warnings kept from one compiler run.
const maxDiagnostics = 50

// CommandCompiler runs a build command in a directory. A zero exit status is success;
// otherwise the diagnostic lines of the output become the error list.
type CommandCompiler struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

// Compile implements orchestrator.Compiler. The artifact is not inspected: the command
// checks whatever the generator left in Dir.
func (c *CommandCompiler) Compile(ctx context.Context, _ orchestrator.Artifact) (orchestrator.CompileResult, error) {
	if len(c.Command) == 0 {
		return orchestrator.CompileResult{Success: true}, nil
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := orchestrator.CompileResult{Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Success = true
	case ctx.Err() == context.DeadlineExceeded && c.Timeout > 0:
		res.Errors = []string{fmt.Sprintf("%s timed out after %s", c.Command[0], c.Timeout)}
		return res, nil
	case errors.As(err, &exitErr):
		res.Success = false
	default:
		return res, fmt.Errorf("run %s: %w", c.Command[0], err)
	}

	errs, warns := diagnostics(stderr.String() + "\n" + stdout.String())
	res.Warnings = warns
	if !res.Success {
		if len(errs) == 0 {
			errs = []string{fmt.Sprintf("%s exited with status %d", c.Command[0], exitErr.ExitCode())}
		}
		res.Errors = errs
	}
	return res, nil
}

// diagnostics splits compiler output into error and warning lines.
func diagnostics(output string) (errs, warns []string) {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(strings.ToLower(line), "warning") {
			if len(warns) < maxDiagnostics {
				warns = append(warns, line)
			}
			continue
		}
		if len(errs) < maxDiagnostics {
			errs = append(errs, line)
		}
	}
	return errs, warns
}

// ScriptedCompiler replays a fixed sequence of results; the last one repeats.
type ScriptedCompiler struct {
	Results []orchestrator.CompileResult
	calls   int
}

// Compile implements orchestrator.Compiler.
func (s *ScriptedCompiler) Compile(context.Context, orchestrator.Artifact) (orchestrator.CompileResult, error) {
	if len(s.Results) == 0 {
		return orchestrator.CompileResult{Success: true}, nil
	}
	i := min(s.calls, len(s.Results)-1)
	s.calls++
	return s.Results[i], nil
}

// FailFirst returns a script that fails n times with message and then succeeds.
func FailFirst(n int, message string) *ScriptedCompiler {
	s := &ScriptedCompiler{}
	for range n {
		s.Results = append(s.Results, orchestrator.CompileResult{Errors: []string{message}})
	}
	s.Results = append(s.Results, orchestrator.CompileResult{Success: true})
	return s
}
