package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/config"
	"github.com/Mirai3103/quiz-grader/internal/core/sandbox"
	"github.com/Mirai3103/quiz-grader/internal/models"
)

const (
	internalErrorMessage   = "Internal error while running your code."
	missingOutputMessage   = "no output for this test case"
	compileTimeoutMessage  = "Compilation time limit exceeded."
	memoryExceededMessage  = "Memory limit exceeded."
	gradingCanceledMessage = "Grading was canceled."
)

// Observer receives one notification per grading call.
type Observer interface {
	ObserveGrade(lang models.Language, outcome string, elapsed time.Duration)
}

type Option func(*Grader)

func WithLogger(l *zap.Logger) Option {
	return func(g *Grader) { g.logger = l.Named("grader") }
}

func WithObserver(o Observer) Option {
	return func(g *Grader) { g.observer = o }
}

// Grader compiles (when needed) and runs submissions through a sandbox
// executor and compares their output with the expected values. It keeps no
// state between calls and is safe for concurrent use.
type Grader struct {
	executor sandbox.Executor
	cfg      config.RunnerConfig
	logger   *zap.Logger
	observer Observer
}

func NewGrader(executor sandbox.Executor, cfg config.RunnerConfig, opts ...Option) *Grader {
	g := &Grader{
		executor: executor,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grade runs the harness procedure. Interpreted languages get one
// entry-function call per test case appended to the source and are run
// once; their output lines are paired with the test cases by position.
// Compiled languages are built once and run per test case with the input
// as the single program argument.
func (g *Grader) Grade(ctx context.Context, sub models.Submission, cases []models.TestCase) models.GradeResult {
	return g.grade(ctx, sub, func(prof config.LanguageConfig) (models.GradeResult, bool) {
		if prof.CompileCommand == "" {
			if prof.InvokeTemplate == "" {
				g.logger.Error("interpreted language has no invoke template", zap.String("language", string(sub.Language)))
				return models.GradeResult{}, false
			}
			return g.gradeScript(ctx, sub, prof, cases), true
		}
		return g.gradeCompiled(ctx, sub, prof, cases, true), true
	})
}

// GradeProgram runs the whole program once per test case with the case input
// on stdin. Questions without test case records are graded against
// questionExpected with empty input, which also fills in cases that carry no
// expected output of their own.
func (g *Grader) GradeProgram(ctx context.Context, sub models.Submission, cases []models.TestCase, questionExpected string) models.GradeResult {
	if len(cases) == 0 {
		cases = []models.TestCase{{ID: "question", ExpectedOutput: questionExpected}}
	} else {
		filled := make([]models.TestCase, len(cases))
		for i, tc := range cases {
			if tc.ExpectedOutput == "" {
				tc.ExpectedOutput = questionExpected
			}
			filled[i] = tc
		}
		cases = filled
	}
	return g.grade(ctx, sub, func(prof config.LanguageConfig) (models.GradeResult, bool) {
		return g.gradeCompiled(ctx, sub, prof, cases, false), true
	})
}

func (g *Grader) grade(ctx context.Context, sub models.Submission, run func(config.LanguageConfig) (models.GradeResult, bool)) models.GradeResult {
	start := time.Now()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	var result models.GradeResult
	prof, ok := g.profile(sub.Language)
	if ok {
		result, ok = run(prof)
	}
	if !ok {
		result = models.FailedAttempt(models.UnsupportedLanguage, models.UnsupportedLanguageMessage)
	}

	elapsed := time.Since(start)
	g.logger.Info("grading finished",
		zap.String("submission_id", sub.ID),
		zap.String("question_id", sub.QuestionID),
		zap.String("language", string(sub.Language)),
		zap.Bool("success", result.Success),
		zap.String("failure", string(result.Failure)),
		zap.Int("passed", result.Passed()),
		zap.Int("total", len(result.TestCases)),
		zap.Duration("elapsed", elapsed))
	if g.observer != nil {
		g.observer.ObserveGrade(sub.Language, outcome(result), elapsed)
	}
	return result
}

func outcome(r models.GradeResult) string {
	switch {
	case r.Failure != models.NoError:
		return string(r.Failure)
	case r.Success:
		return "passed"
	default:
		return "failed"
	}
}

func (g *Grader) profile(lang models.Language) (config.LanguageConfig, bool) {
	parsed, ok := models.ParseLanguage(string(lang))
	if !ok {
		return config.LanguageConfig{}, false
	}
	prof, ok := g.cfg.Languages[string(parsed)]
	if !ok || prof.SourceFile == "" || prof.RunCommand == "" {
		return config.LanguageConfig{}, false
	}
	return prof, true
}

func (g *Grader) runTimeoutMs() int {
	if g.cfg.RunTimeoutMs > 0 {
		return g.cfg.RunTimeoutMs
	}
	return 5000
}

// compileTimeoutMs never drops below the run timeout.
func (g *Grader) compileTimeoutMs() int {
	ms := g.cfg.CompilationTimeoutSec * 1000
	if ms < g.runTimeoutMs() {
		ms = g.runTimeoutMs()
	}
	return ms
}

// workspace is a private directory holding one submission's files.
type workspace struct {
	dir string
}

func (g *Grader) newWorkspace(prof config.LanguageConfig, source string) (*workspace, error) {
	if g.cfg.WorkDir != "" {
		if err := os.MkdirAll(g.cfg.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(g.cfg.WorkDir, "grade-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	ws := &workspace{dir: dir}
	if err := os.WriteFile(filepath.Join(dir, prof.SourceFile), []byte(source), 0o644); err != nil {
		ws.Close()
		return nil, fmt.Errorf("write source: %w", err)
	}
	return ws, nil
}

func (w *workspace) Close() error {
	return os.RemoveAll(w.dir)
}

// scrub removes host paths of the workspace from messages shown to students.
func (w *workspace) scrub(s string) string {
	return strings.ReplaceAll(s, w.dir+string(filepath.Separator), "")
}

func (g *Grader) commandVars(prof config.LanguageConfig) map[string]string {
	return map[string]string{
		"source_file": prof.SourceFile,
		"work_dir":    ".",
	}
}

func (g *Grader) gradeScript(ctx context.Context, sub models.Submission, prof config.LanguageConfig, cases []models.TestCase) models.GradeResult {
	var src strings.Builder
	src.WriteString(sub.Code)
	src.WriteString("\n")
	for _, tc := range cases {
		src.WriteString(invokeLine(prof.InvokeTemplate, g.cfg.EntryFunction, tc.Input))
		src.WriteString("\n")
	}

	ws, err := g.newWorkspace(prof, src.String())
	if err != nil {
		g.logger.Error("failed to prepare workspace", zap.String("submission_id", sub.ID), zap.Error(err))
		return models.FailedAttempt(models.RuntimeError, internalErrorMessage)
	}
	defer g.cleanup(ws)

	runCmd, err := expandCommand(prof.RunCommand, g.commandVars(prof))
	if err != nil {
		g.logger.Error("bad run command", zap.Error(err))
		return models.FailedAttempt(models.RuntimeError, internalErrorMessage)
	}

	res, err := g.executor.Execute(ctx, sandbox.RunRequest{
		SubmissionID:     sub.ID,
		TestCaseID:       "all",
		Command:          runCmd,
		WorkingDirectory: ws.dir,
		TimeLimitMs:      g.runTimeoutMs(),
		MemoryLimitKb:    g.cfg.MemoryLimitKb,
	})
	if err != nil {
		return models.FailedAttempt(g.executorFailure(sub.ID, err))
	}
	if res.Status != sandbox.Success {
		kind, msg := g.runFailure(ws, res)
		return models.FailedAttempt(kind, msg)
	}

	lines := outputLines(res.Stdout)
	results := make([]models.CaseResult, len(cases))
	for i, tc := range cases {
		if i >= len(lines) {
			results[i] = models.CaseResult{Passed: false, Expected: tc.ExpectedOutput, Error: missingOutputMessage, Kind: models.RuntimeError}
			continue
		}
		results[i] = compareCase(tc.ExpectedOutput, lines[i])
	}
	return models.NewGradeResult(results)
}

// gradeCompiled builds the source once when the language needs it, then runs
// every test case separately. With inputAsArg the case input becomes the
// program argument, otherwise it is written to stdin.
func (g *Grader) gradeCompiled(ctx context.Context, sub models.Submission, prof config.LanguageConfig, cases []models.TestCase, inputAsArg bool) models.GradeResult {
	ws, err := g.newWorkspace(prof, sub.Code)
	if err != nil {
		g.logger.Error("failed to prepare workspace", zap.String("submission_id", sub.ID), zap.Error(err))
		return models.FailedAttempt(models.RuntimeError, internalErrorMessage)
	}
	defer g.cleanup(ws)

	if prof.CompileCommand != "" {
		if failed, ok := g.compile(ctx, sub, prof, ws); !ok {
			return failed
		}
	}

	runCmd, err := expandCommand(prof.RunCommand, g.commandVars(prof))
	if err != nil {
		g.logger.Error("bad run command", zap.Error(err))
		return models.FailedAttempt(models.RuntimeError, internalErrorMessage)
	}

	results := make([]models.CaseResult, 0, len(cases))
	for i, tc := range cases {
		if ctx.Err() != nil {
			results = append(results, models.CaseResult{Passed: false, Expected: tc.ExpectedOutput, Error: gradingCanceledMessage, Kind: models.ExecutionTimeout})
			continue
		}

		req := sandbox.RunRequest{
			SubmissionID:     sub.ID,
			TestCaseID:       caseID(tc, i),
			Command:          runCmd,
			WorkingDirectory: ws.dir,
			TimeLimitMs:      g.runTimeoutMs(),
			MemoryLimitKb:    g.cfg.MemoryLimitKb,
		}
		if inputAsArg {
			req.Command = append(append([]string{}, runCmd...), tc.Input)
		} else {
			req.Input = tc.Input
		}

		res, err := g.executor.Execute(ctx, req)
		if err != nil {
			kind, msg := g.executorFailure(sub.ID, err)
			results = append(results, models.CaseResult{Passed: false, Expected: tc.ExpectedOutput, Error: msg, Kind: kind})
			continue
		}
		if res.Status != sandbox.Success {
			kind, msg := g.runFailure(ws, res)
			cr := models.CaseResult{Passed: false, Expected: tc.ExpectedOutput, Error: msg, Kind: kind}
			if out := strings.TrimSpace(res.Stdout); out != "" {
				cr.Actual = &out
			}
			results = append(results, cr)
			continue
		}
		results = append(results, compareCase(tc.ExpectedOutput, res.Stdout))
	}
	return models.NewGradeResult(results)
}

func (g *Grader) compile(ctx context.Context, sub models.Submission, prof config.LanguageConfig, ws *workspace) (models.GradeResult, bool) {
	compileCmd, err := expandCommand(prof.CompileCommand, g.commandVars(prof))
	if err != nil {
		g.logger.Error("bad compile command", zap.Error(err))
		return models.FailedAttempt(models.RuntimeError, internalErrorMessage), false
	}

	res, err := g.executor.Execute(ctx, sandbox.RunRequest{
		SubmissionID:     sub.ID,
		TestCaseID:       "compile",
		Command:          compileCmd,
		WorkingDirectory: ws.dir,
		TimeLimitMs:      g.compileTimeoutMs(),
	})
	if err != nil {
		return models.FailedAttempt(g.executorFailure(sub.ID, err)), false
	}

	switch res.Status {
	case sandbox.Success:
		return models.GradeResult{}, true
	case sandbox.TimeLimitExceeded:
		return models.FailedAttempt(models.CompilationError, compileTimeoutMessage), false
	default:
		diag := res.Stderr
		if strings.TrimSpace(diag) == "" {
			diag = res.Stdout
		}
		g.logger.Debug("compilation failed", zap.String("submission_id", sub.ID), zap.Int("exit_code", res.ExitCode))
		return models.FailedAttempt(models.CompilationError, truncate(strings.TrimSpace(ws.scrub(diag)), maxMessageBytes)), false
	}
}

// runFailure classifies a program that did not finish successfully.
func (g *Grader) runFailure(ws *workspace, res *sandbox.ExecuteResult) (models.ErrorKind, string) {
	switch res.Status {
	case sandbox.TimeLimitExceeded:
		return models.ExecutionTimeout, fmt.Sprintf("Execution timed out after %s.", time.Duration(g.runTimeoutMs())*time.Millisecond)
	case sandbox.MemoryLimitExceeded:
		return models.RuntimeError, memoryExceededMessage
	default:
		msg := strings.TrimSpace(ws.scrub(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("Program exited with status %d.", res.ExitCode)
		}
		return models.RuntimeError, truncate(msg, maxMessageBytes)
	}
}

// executorFailure logs the executor error in full and returns what the
// student is allowed to see.
func (g *Grader) executorFailure(submissionID string, err error) (models.ErrorKind, string) {
	var se *sandbox.Error
	if errors.As(err, &se) && se.Type == sandbox.ErrCanceled {
		return models.ExecutionTimeout, gradingCanceledMessage
	}
	g.logger.Error("executor failed", zap.String("submission_id", submissionID), zap.Error(err))
	return models.RuntimeError, internalErrorMessage
}

func (g *Grader) cleanup(ws *workspace) {
	if err := ws.Close(); err != nil {
		g.logger.Warn("failed to remove workspace", zap.String("dir", ws.dir), zap.Error(err))
	}
}

func caseID(tc models.TestCase, i int) string {
	if tc.ID != "" {
		return tc.ID
	}
	return fmt.Sprintf("%d", i+1)
}
