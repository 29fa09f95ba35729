package models

import (
	"strings"
)

// Language is a submission language accepted by the grader.
type Language string

const (
	Python Language = "python"
	Java   Language = "java"
)

// ParseLanguage normalizes a declared language. The boolean is false for
// anything the grader does not support.
func ParseLanguage(s string) (Language, bool) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case Python:
		return Python, true
	case Java:
		return Java, true
	default:
		return Language(s), false
	}
}

// Supported reports whether l is one of the known languages.
func (l Language) Supported() bool {
	_, ok := ParseLanguage(string(l))
	return ok
}

type Submission struct {
	ID         string   `json:"id"`
	QuestionID string   `json:"questionId"`
	Language   Language `json:"language"`
	Code       string   `json:"code"`
}

type TestCase struct {
	ID             string `json:"id,omitempty"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// GradeMode selects which grading procedure handles a request.
type GradeMode string

const (
	// ModeHarness appends one entry-function call per test case (script
	// languages) or passes the input as a program argument (compiled ones).
	ModeHarness GradeMode = "harness"
	// ModeProgram runs the whole program once per test case with the input on stdin.
	ModeProgram GradeMode = "program"
)

// GradeRequest is the message envelope consumed by the grading worker.
type GradeRequest struct {
	Submission     Submission `json:"submission"`
	TestCases      []TestCase `json:"testCases"`
	Mode           GradeMode  `json:"mode"`
	ExpectedOutput string     `json:"expectedOutput,omitempty"`
}

type GradeResponse struct {
	SubmissionID string      `json:"submissionId"`
	Result       GradeResult `json:"result"`
}
