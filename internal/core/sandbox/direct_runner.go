//go:build unix

package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const (
	memoryPollInterval = 20 * time.Millisecond
	// waitDelay bounds how long Wait keeps draining pipes after the process
	// group was killed; grandchildren may hold them open.
	waitDelay      = 500 * time.Millisecond
	maxOutputBytes = 8 << 20
)

// DirectExecutor runs programs as host subprocesses in their own process
// group. It applies CPU and file size rlimits where the OS supports them and
// kills the group on timeout or when RSS exceeds the memory limit.
type DirectExecutor struct {
	logger *zap.Logger
}

func NewDirectExecutor(logger *zap.Logger) *DirectExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectExecutor{logger: logger.Named("direct")}
}

func (e *DirectExecutor) ID() string {
	return "direct_executor_v2"
}

func (e *DirectExecutor) Execute(ctx context.Context, req RunRequest) (*ExecuteResult, error) {
	if len(req.Command) == 0 {
		return nil, &Error{Type: ErrInternal, Message: "empty command"}
	}
	log := e.logger.With(
		zap.String("submission_id", req.SubmissionID),
		zap.String("test_case_id", req.TestCaseID),
	)

	runCtx := ctx
	if req.TimeLimitMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeLimitMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Command[0], req.Command[1:]...)
	cmd.Dir = req.WorkingDirectory
	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd.Process) }
	cmd.WaitDelay = waitDelay

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		log.Warn("failed to start command", zap.Strings("command", req.Command), zap.Error(err))
		return nil, &Error{Type: ErrCmdStart, Message: "failed to start command", Cause: err}
	}
	pid := cmd.Process.Pid

	if err := applyLimits(pid, req); err != nil {
		log.Warn("failed to apply rlimits", zap.Int("pid", pid), zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.Wait()
	}()

	var maxRSS atomic.Uint64
	var memoryLimitExceeded atomic.Bool
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()

	go func() {
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				proc, err := process.NewProcess(int32(pid))
				if err != nil {
					// exited between ticks
					continue
				}
				memInfo, err := proc.MemoryInfo()
				if err != nil {
					continue
				}
				rss := memInfo.RSS
				if rss > maxRSS.Load() {
					maxRSS.Store(rss)
				}
				if req.MemoryLimitKb > 0 && rss/1024 > uint64(req.MemoryLimitKb) {
					memoryLimitExceeded.Store(true)
					log.Info("memory limit exceeded, killing process group",
						zap.Uint64("rss_kb", rss/1024), zap.Int("limit_kb", req.MemoryLimitKb))
					if err := killGroup(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
						log.Warn("failed to kill process group", zap.Error(err))
					}
					return
				}
			}
		}
	}()

	waitErr := <-errChan
	stopMonitor()
	// background children outlive a normal exit of the leader
	if err := killGroup(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn("failed to reap process group", zap.Error(err))
	}

	result := &ExecuteResult{
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		TimeUsedMs:   int(time.Since(startTime).Milliseconds()),
		MemoryUsedKb: int(maxRSS.Load() / 1024),
	}

	switch {
	case ctx.Err() != nil:
		// the caller gave up, not a limit of this run
		return nil, &Error{Type: ErrCanceled, Message: "execution canceled", Cause: ctx.Err()}
	case memoryLimitExceeded.Load():
		result.Status = MemoryLimitExceeded
		result.ExitCode = -1
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = TimeLimitExceeded
		result.ExitCode = -1
	case waitErr == nil, errors.Is(waitErr, exec.ErrWaitDelay):
		result.Status = Success
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			log.Error("unexpected wait error", zap.Error(waitErr))
			return nil, &Error{Type: ErrCmdWait, Message: "command wait failed with unexpected error", Cause: waitErr}
		}
		result.ExitCode = exitErr.ExitCode()
		result.Status = RuntimeError
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGXCPU {
			result.Status = TimeLimitExceeded
		}
	}

	log.Debug("execution finished",
		zap.String("status", string(result.Status)),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("time_ms", result.TimeUsedMs),
		zap.Int("memory_kb", result.MemoryUsedKb))
	return result, nil
}

func killGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
