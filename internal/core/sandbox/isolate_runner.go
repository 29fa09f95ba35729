package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/config"
)

const (
	DefaultIsolatePath       = "isolate"
	DefaultEnvPath           = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	DefaultFsizeKb           = 65536
	DefaultProcesses         = 64
	DefaultExtraTimeSeconds  = 2.0
	DefaultWallTimeFactor    = 2.0
	DefaultBoxCleanupTimeout = 5 * time.Second
	// isolate keeps at most 1000 boxes by default
	maxBoxID = 1000
)

// IsolateExecutor runs programs inside boxes of the isolate tool: cgroup
// memory limit, CPU and wall time limits, a process cap and no network.
type IsolateExecutor struct {
	config       config.IsolateConfig
	logger       *zap.Logger
	boxIDCounter atomic.Uint32
}

func NewIsolateExecutor(cfg config.IsolateConfig, logger *zap.Logger) *IsolateExecutor {
	if cfg.Path == "" {
		cfg.Path = DefaultIsolatePath
	}
	if cfg.EnvPath == "" {
		cfg.EnvPath = DefaultEnvPath
	}
	if cfg.FsizeKb == 0 {
		cfg.FsizeKb = DefaultFsizeKb
	}
	if cfg.Processes == 0 {
		cfg.Processes = DefaultProcesses
	}
	if cfg.ExtraTimeSeconds == 0 {
		cfg.ExtraTimeSeconds = DefaultExtraTimeSeconds
	}
	if cfg.WallTimeFactor == 0 {
		cfg.WallTimeFactor = DefaultWallTimeFactor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IsolateExecutor{config: cfg, logger: logger.Named("isolate")}
}

func (e *IsolateExecutor) ID() string {
	return "isolate_executor_v1"
}

func (e *IsolateExecutor) nextBoxID() string {
	return strconv.FormatUint(uint64(e.boxIDCounter.Add(1)%maxBoxID), 10)
}

// Execute copies nothing: the working directory is bind mounted read-write
// as /box, which isolate also uses as the current directory, so relative
// commands resolve the same way they do for the direct executor.
func (e *IsolateExecutor) Execute(ctx context.Context, req RunRequest) (*ExecuteResult, error) {
	if len(req.Command) == 0 {
		return nil, &Error{Type: ErrInternal, Message: "empty command"}
	}
	boxID := e.nextBoxID()
	log := e.logger.With(
		zap.String("box_id", boxID),
		zap.String("submission_id", req.SubmissionID),
		zap.String("test_case_id", req.TestCaseID),
	)

	tempDir := e.config.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	ioDir, err := os.MkdirTemp(tempDir, "isolate-"+boxID+"-*")
	if err != nil {
		return nil, &Error{Type: ErrInternal, Message: "failed to create io directory", Cause: err}
	}
	defer os.RemoveAll(ioDir)

	stdinPath := filepath.Join(ioDir, "stdin.txt")
	stdoutPath := filepath.Join(ioDir, "stdout.txt")
	stderrPath := filepath.Join(ioDir, "stderr.txt")
	metaPath := filepath.Join(ioDir, "meta.txt")
	if err := os.WriteFile(stdinPath, []byte(req.Input), 0o644); err != nil {
		return nil, &Error{Type: ErrInternal, Message: "failed to write stdin file", Cause: err}
	}

	initCmd := exec.CommandContext(ctx, e.config.Path, "--box-id="+boxID, "--cg", "--init")
	if output, err := initCmd.CombinedOutput(); err != nil {
		log.Error("isolate init failed", zap.ByteString("output", output), zap.Error(err))
		return nil, &Error{Type: ErrInternal, Message: "isolate init failed", Cause: err, Details: string(output)}
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), DefaultBoxCleanupTimeout)
		defer cancel()
		cleanupCmd := exec.CommandContext(cleanupCtx, e.config.Path, "--box-id="+boxID, "--cg", "--cleanup")
		if output, err := cleanupCmd.CombinedOutput(); err != nil {
			log.Warn("isolate cleanup failed", zap.ByteString("output", output), zap.Error(err))
		}
	}()

	runArgs := e.runArgs(boxID, req, stdinPath, stdoutPath, stderrPath, metaPath)
	log.Debug("running in sandbox", zap.Strings("args", runArgs))
	runErr := exec.CommandContext(ctx, e.config.Path, runArgs...).Run()
	if runErr != nil {
		// isolate exits non-zero whenever the program does; the meta file is authoritative
		log.Debug("isolate run returned error", zap.Error(runErr))
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &Error{Type: ErrCanceled, Message: "execution canceled", Cause: ctx.Err()}
	}

	stdoutBytes, _ := os.ReadFile(stdoutPath)
	stderrBytes, _ := os.ReadFile(stderrPath)

	meta, err := parseIsolateMetaFile(metaPath)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ExecuteResult{Status: TimeLimitExceeded, Stdout: string(stdoutBytes), Stderr: string(stderrBytes), ExitCode: -1}, nil
		}
		return nil, &Error{Type: ErrInternal, Message: "failed to parse isolate meta file", Cause: err}
	}

	result := &ExecuteResult{
		Stdout:       string(stdoutBytes),
		Stderr:       string(stderrBytes),
		ExitCode:     meta.ExitCode,
		TimeUsedMs:   int(meta.TimeWall * 1000),
		MemoryUsedKb: meta.CGMemKB,
	}
	status, err := meta.status(req.MemoryLimitKb)
	if err != nil {
		log.Error("isolate internal error", zap.String("message", meta.Message))
		return nil, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = TimeLimitExceeded
	}
	result.Status = status

	log.Debug("execution finished",
		zap.String("status", string(result.Status)),
		zap.Int("time_ms", result.TimeUsedMs),
		zap.Int("memory_kb", result.MemoryUsedKb))
	return result, nil
}

func (e *IsolateExecutor) runArgs(boxID string, req RunRequest, stdinPath, stdoutPath, stderrPath, metaPath string) []string {
	args := []string{"--box-id=" + boxID, "--cg"}
	if req.MemoryLimitKb > 0 {
		args = append(args, "--cg-mem="+strconv.Itoa(req.MemoryLimitKb))
	}
	if req.TimeLimitMs > 0 {
		timeLimitSec := float64(req.TimeLimitMs) / 1000.0
		wallTimeLimitSec := timeLimitSec * e.config.WallTimeFactor
		if wallTimeLimitSec < timeLimitSec+e.config.ExtraTimeSeconds {
			wallTimeLimitSec = timeLimitSec + e.config.ExtraTimeSeconds + 1.0
		}
		args = append(args,
			fmt.Sprintf("--time=%.3f", timeLimitSec),
			fmt.Sprintf("--wall-time=%.3f", wallTimeLimitSec),
			fmt.Sprintf("--extra-time=%.3f", e.config.ExtraTimeSeconds),
		)
	}
	args = append(args,
		"--fsize="+strconv.Itoa(e.config.FsizeKb),
		"--stdin="+stdinPath,
		"--stdout="+stdoutPath,
		"--stderr="+stderrPath,
		"--meta="+metaPath,
		"--dir=/box="+req.WorkingDirectory+":rw",
		"--env=PATH="+e.config.EnvPath,
		fmt.Sprintf("--processes=%d", e.config.Processes),
		"--run", "--",
	)
	return append(args, req.Command...)
}

// isolateMeta holds the parsed isolate --meta file.
type isolateMeta struct {
	TimeSeconds float64
	TimeWall    float64
	MaxRSS      int
	CGMemKB     int
	CGOOMKilled int
	ExitCode    int
	Status      string // TO, RE, SG, XX or empty
	Message     string
}

func (m *isolateMeta) status(memoryLimitKb int) (Status, error) {
	oom := m.CGOOMKilled > 0 || (memoryLimitKb > 0 && m.CGMemKB > memoryLimitKb)
	switch m.Status {
	case "TO":
		return TimeLimitExceeded, nil
	case "SG", "RE":
		if oom {
			return MemoryLimitExceeded, nil
		}
		return RuntimeError, nil
	case "XX":
		return "", &Error{Type: ErrInternal, Message: "isolate internal error: " + m.Message}
	default:
		if oom {
			return MemoryLimitExceeded, nil
		}
		if m.ExitCode != 0 {
			return RuntimeError, nil
		}
		return Success, nil
	}
}

func parseIsolateMetaFile(filePath string) (*isolateMeta, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open meta file %s: %w", filePath, err)
	}
	defer file.Close()

	meta := &isolateMeta{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch key {
		case "time":
			meta.TimeSeconds, _ = strconv.ParseFloat(value, 64)
		case "time-wall":
			meta.TimeWall, _ = strconv.ParseFloat(value, 64)
		case "max-rss":
			meta.MaxRSS, _ = strconv.Atoi(value)
		case "cg-mem":
			// reported in KB
			meta.CGMemKB, _ = strconv.Atoi(value)
		case "cg-oom-killed":
			meta.CGOOMKilled, _ = strconv.Atoi(value)
		case "exitcode":
			meta.ExitCode, _ = strconv.Atoi(value)
		case "status":
			meta.Status = value
		case "message":
			meta.Message = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read meta file %s: %w", filePath, err)
	}
	return meta, nil
}
