package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/Mirai3103/quiz-grader/internal/models"
)

// parseFlags runs a throwaway command so flag parsing matches the real one.
func parseFlags(t *testing.T, stdin string, args ...string) (models.GradeRequest, error) {
	t.Helper()
	var (
		req    models.GradeRequest
		reqErr error
	)
	cmd := &cli.Command{
		Name:  "probe",
		Flags: submissionFlags(),
		Action: func(_ context.Context, c *cli.Command) error {
			req, reqErr = requestFromFlags(c, strings.NewReader(stdin))
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"probe"}, args...)))
	return req, reqErr
}

func TestRequestFromFlagsDefaultsToSquare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.py")
	require.NoError(t, os.WriteFile(path, []byte("def square(x):\n    return x * x\n"), 0o644))

	req, err := parseFlags(t, "", "--language", "python", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, models.ModeHarness, req.Mode)
	assert.Equal(t, models.Python, req.Submission.Language)
	assert.Contains(t, req.Submission.Code, "def square")
	assert.NotEmpty(t, req.Submission.ID)
	require.Len(t, req.TestCases, 3)
	assert.Equal(t, "100", req.TestCases[2].ExpectedOutput)
}

func TestRequestFromFlagsProgramFromStdin(t *testing.T) {
	req, err := parseFlags(t, "print(input())", "-l", "python", "-f", "-", "--mode", "program", "--case", "hi=hi", "--case", "a=b=c")
	require.NoError(t, err)
	assert.Equal(t, "print(input())", req.Submission.Code)
	require.Len(t, req.TestCases, 2)
	assert.Equal(t, "a", req.TestCases[1].Input)
	assert.Equal(t, "b=c", req.TestCases[1].ExpectedOutput)
}

func TestRequestFromFlagsErrors(t *testing.T) {
	_, err := parseFlags(t, "", "-l", "python", "-f", filepath.Join(t.TempDir(), "missing.py"))
	assert.Error(t, err)

	_, err = parseFlags(t, "x", "-l", "python", "-f", "-", "--mode", "batch")
	assert.Error(t, err)

	_, err = parseFlags(t, "x", "-l", "python", "-f", "-", "--case", "noequals")
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	pass := models.NewGradeResult([]models.CaseResult{{Passed: true, Expected: "4"}})
	require.NoError(t, printResult(&buf, pass, false))
	assert.Equal(t, "Test case 1 passed.\n", buf.String())

	buf.Reset()
	fail := models.FailedAttempt(models.UnsupportedLanguage, models.UnsupportedLanguageMessage)
	assert.ErrorIs(t, printResult(&buf, fail, true), errNotAllPassed)
	assert.Contains(t, buf.String(), `"failure": "unsupported_language"`)
}
