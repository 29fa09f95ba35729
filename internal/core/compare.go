package core

import (
	"strings"
	"unicode/utf8"

	"github.com/Mirai3103/quiz-grader/internal/models"
)

const maxMessageBytes = 2048

// compareCase passes when actual and expected are equal after trimming
// surrounding whitespace. Comparison is case sensitive.
func compareCase(expected, actual string) models.CaseResult {
	got := strings.TrimSpace(actual)
	if got == strings.TrimSpace(expected) {
		return models.CaseResult{Passed: true, Expected: expected}
	}
	return models.CaseResult{Passed: false, Expected: expected, Actual: &got}
}

// outputLines splits captured stdout into lines, dropping trailing blank
// lines and carriage returns. Leading blank lines keep their position.
func outputLines(stdout string) []string {
	trimmed := strings.TrimRight(stdout, " \t\r\n")
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

// truncate keeps at most n bytes of s without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n... (truncated)"
}
