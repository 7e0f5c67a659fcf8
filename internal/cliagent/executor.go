package cliagent

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
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrEmptyCommand is returned for a blank command line.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrNotAllowed is returned when the command is not in the capability table.
	ErrNotAllowed = errors.New("command not allowed")
	// ErrRateLimited is returned when the per-minute command budget is spent.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// SelfTestCommand is the command line run by SelfTest.
const SelfTestCommand = `echo "Hello from CLI Agent"`

// Runner starts a process and collects its output. argv[0] is looked up on
// PATH; no shell is involved.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout, stderr string, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, argv []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = sanitizeEnvironment(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("command timed out: %w", ctx.Err())
	}
	return stdout.String(), stderr.String(), err
}

// sanitizeEnvironment drops loader and exported-function variables.
func sanitizeEnvironment(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		upper := strings.ToUpper(key)
		if strings.HasPrefix(upper, "LD_") || strings.HasPrefix(upper, "DYLD_") || strings.HasPrefix(upper, "BASH_FUNC_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Result is the outcome of one command. Error holds stderr, or the failure
// message when the command could not run.
type Result struct {
	Command       string
	Success       bool
	Output        string
	Error         string
	ExecutionTime time.Duration
}

// Executor validates command lines against the capability table and runs
// the allowed ones in the working directory.
type Executor struct {
	runner  Runner
	workdir string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecutor creates an executor. perMinute <= 0 disables rate limiting.
func NewExecutor(runner Runner, workdir string, timeout time.Duration, perMinute int, logger *slog.Logger) *Executor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		runner:  runner,
		workdir: workdir,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
	if perMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return e
}

// Workdir returns the directory commands run in.
func (e *Executor) Workdir() string {
	return e.workdir
}

// Parse normalizes cmd, splits it into argv and checks the base command.
// The returned argv has a lowercased argv[0].
func (e *Executor) Parse(cmd string) ([]string, error) {
	normalized := strings.TrimSpace(normalizeCommand(cmd))
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	argv, err := splitArgs(normalized)
	base := strings.ToLower(fields[0])
	if err == nil && len(argv) > 0 {
		base = strings.ToLower(argv[0])
	}
	if !IsAllowed(base) {
		return nil, fmt.Errorf("%w: %q", ErrNotAllowed, base)
	}
	if err != nil {
		return nil, err
	}
	argv[0] = base
	return argv, nil
}

// Execute runs cmd if it passes the capability check and the rate limit.
// Disallowed or rate-limited commands return an error and never reach the
// runner. A command that runs but fails is reported in Result, not as an
// error.
func (e *Executor) Execute(ctx context.Context, cmd string) (Result, error) {
	argv, err := e.Parse(cmd)
	switch {
	case errors.Is(err, ErrEmptyCommand), errors.Is(err, ErrNotAllowed):
		return Result{}, err
	case err != nil:
		return Result{Command: cmd, Success: false, Error: err.Error()}, nil
	}

	if e.limiter != nil && !e.limiter.Allow() {
		return Result{}, ErrRateLimited
	}

	e.logger.Info("executing cli command", "command", cmd)
	res := e.run(ctx, cmd, argv)
	if res.Success {
		e.logger.Info("cli command executed", "command", cmd, "execution_time", res.ExecutionTime)
	} else {
		e.logger.Warn("cli command failed", "command", cmd, "error", res.Error, "execution_time", res.ExecutionTime)
	}
	return res, nil
}

// SelfTest runs SelfTestCommand directly.
func (e *Executor) SelfTest(ctx context.Context) Result {
	res := e.run(ctx, SelfTestCommand, []string{"echo", "Hello from CLI Agent"})
	res.Output = strings.TrimSpace(res.Output)
	return res
}

func (e *Executor) run(ctx context.Context, cmd string, argv []string) Result {
	start := e.now()
	res := Result{Command: cmd}

	if argv[0] == "cd" {
		res.Success, res.Error = e.changeDir(argv[1:])
		res.ExecutionTime = e.now().Sub(start)
		return res
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stdout, stderr, err := e.runner.Run(runCtx, e.workdir, argv)
	res.ExecutionTime = e.now().Sub(start)
	res.Output = stdout
	res.Error = stderr
	if err != nil {
		if res.Error == "" {
			res.Error = err.Error()
		}
		return res
	}
	res.Success = true
	return res
}

// changeDir mirrors a subshell cd: it only checks that the target exists.
func (e *Executor) changeDir(args []string) (bool, string) {
	if len(args) == 0 {
		return true, ""
	}
	target := args[0]
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.workdir, target)
	}
	fi, err := os.Stat(target)
	if err != nil {
		return false, fmt.Sprintf("cd: %s: No such file or directory", args[0])
	}
	if !fi.IsDir() {
		return false, fmt.Sprintf("cd: %s: Not a directory", args[0])
	}
	return true, ""
}
