//go:build unix

package core

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mirai3103/quiz-grader/internal/config"
	"github.com/Mirai3103/quiz-grader/internal/core/sandbox"
	"github.com/Mirai3103/quiz-grader/internal/models"
)

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
}

func defaultRunnerConfig(t *testing.T) config.RunnerConfig {
	t.Helper()
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	rc := cfg.Runner
	rc.WorkDir = t.TempDir()
	return rc
}

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func TestPythonSquareWithDefaults(t *testing.T) {
	requireTools(t, "python3")
	cfg := defaultRunnerConfig(t)
	g := NewGrader(sandbox.NewDirectExecutor(nil), cfg)

	res := g.Grade(context.Background(), models.Submission{Language: models.Python, Code: readTestdata(t, "square.py")}, squareCases())

	assert.True(t, res.Success)
	require.Len(t, res.TestCases, 3)
	assertNoWorkspaceLeft(t, cfg)
}

func TestPythonNameErrorWithDefaults(t *testing.T) {
	requireTools(t, "python3")
	cfg := defaultRunnerConfig(t)
	g := NewGrader(sandbox.NewDirectExecutor(nil), cfg)

	res := g.Grade(context.Background(), models.Submission{Language: models.Python, Code: "def cube(x):\n    return x ** 3\n"}, squareCases())

	require.Len(t, res.TestCases, 1)
	assert.Equal(t, models.RuntimeError, res.Failure)
	assert.Contains(t, res.TestCases[0].Error, "NameError")
	assert.NotContains(t, res.TestCases[0].Error, cfg.WorkDir)
}

func TestPythonProgramModeWithDefaults(t *testing.T) {
	requireTools(t, "python3")
	cfg := defaultRunnerConfig(t)
	g := NewGrader(sandbox.NewDirectExecutor(nil), cfg)

	res := g.GradeProgram(context.Background(), models.Submission{Language: models.Python, Code: readTestdata(t, "echo_stdin.py")},
		[]models.TestCase{{Input: "3\n", ExpectedOutput: "9"}, {Input: "12\n", ExpectedOutput: "144"}}, "")

	assert.True(t, res.Success)
}

func TestJavaSquareWithDefaults(t *testing.T) {
	requireTools(t, "javac", "java")
	cfg := defaultRunnerConfig(t)
	g := NewGrader(sandbox.NewDirectExecutor(nil), cfg)

	res := g.Grade(context.Background(), models.Submission{Language: models.Java, Code: readTestdata(t, "Main.java")}, squareCases())

	assert.True(t, res.Success, "%+v", res)
	require.Len(t, res.TestCases, 3)
	assertNoWorkspaceLeft(t, cfg)
}

func TestJavaCompilationErrorWithDefaults(t *testing.T) {
	requireTools(t, "javac", "java")
	cfg := defaultRunnerConfig(t)
	g := NewGrader(sandbox.NewDirectExecutor(nil), cfg)

	res := g.Grade(context.Background(), models.Submission{Language: models.Java, Code: "public class Main { void oops( }"}, squareCases())

	require.Len(t, res.TestCases, 1)
	assert.Equal(t, models.CompilationError, res.Failure)
	assert.Contains(t, res.TestCases[0].Error, "Main.java")
	assert.Contains(t, res.Lines()[0], "Compilation Error:")
	assertNoWorkspaceLeft(t, cfg)
}
