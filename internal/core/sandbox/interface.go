package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/config"
)

type Type string

const (
	DirectSandbox  Type = "direct"  // host subprocess with rlimits and RSS monitoring
	IsolateSandbox Type = "isolate" // cgroup box managed by the isolate tool
)

// Status is the outcome of running a prepared program once.
type Status string

const (
	Success             Status = "success"
	RuntimeError        Status = "runtime_error"
	TimeLimitExceeded   Status = "time_limit_exceeded"
	MemoryLimitExceeded Status = "memory_limit_exceeded"
)

// RunRequest describes one execution of an already prepared program
// (compiled binary or script).
type RunRequest struct {
	SubmissionID     string
	TestCaseID       string
	Command          []string // program and arguments, relative to WorkingDirectory
	WorkingDirectory string
	Input            string // fed to stdin, may be empty
	TimeLimitMs      int    // wall clock limit, 0 means none
	MemoryLimitKb    int    // 0 means none
}

// ExecuteResult is what the program did. Compilation errors never show up
// here; the grader handles compilation outside of Execute.
type ExecuteResult struct {
	Status       Status
	Stdout       string
	Stderr       string
	ExitCode     int
	TimeUsedMs   int
	MemoryUsedKb int
}

// Executor runs prepared programs. A non-nil error means the executor itself
// failed; problems of the user program are reported through ExecuteResult.
type Executor interface {
	Execute(ctx context.Context, req RunRequest) (*ExecuteResult, error)

	// ID names the executor implementation in logs.
	ID() string
}

func NewExecutor(rc config.RunnerConfig, logger *zap.Logger) (Executor, error) {
	switch Type(rc.SandboxType) {
	case DirectSandbox, "":
		return NewDirectExecutor(logger), nil
	case IsolateSandbox:
		return NewIsolateExecutor(rc.Isolate, logger), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox type %q", rc.SandboxType)
	}
}

type ErrorType string

const (
	ErrCmdStart ErrorType = "COMMAND_START_ERROR"
	ErrCmdWait  ErrorType = "COMMAND_WAIT_ERROR"
	ErrCanceled ErrorType = "EXECUTION_CANCELED"
	ErrInternal ErrorType = "INTERNAL_SANDBOX_ERROR"
)

type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details string
}

func (se *Error) Error() string {
	if se.Cause != nil {
		return fmt.Sprintf("%s: %s (type: %s)", se.Message, se.Cause.Error(), se.Type)
	}
	return fmt.Sprintf("%s (type: %s)", se.Message, se.Type)
}

func (se *Error) Unwrap() error {
	return se.Cause
}
