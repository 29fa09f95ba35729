package models

import (
	"fmt"
	"html"
	"strings"
)

// ErrorKind classifies why a test case (or a whole attempt) failed.
type ErrorKind string

const (
	NoError             ErrorKind = ""
	CompilationError    ErrorKind = "compilation_error"
	ExecutionTimeout    ErrorKind = "execution_timeout"
	RuntimeError        ErrorKind = "runtime_error"
	UnsupportedLanguage ErrorKind = "unsupported_language"
)

const UnsupportedLanguageMessage = "Unsupported language."

type CaseResult struct {
	Passed   bool      `json:"passed"`
	Expected string    `json:"expected"`
	Actual   *string   `json:"actual,omitempty"`
	Error    string    `json:"error,omitempty"`
	Kind     ErrorKind `json:"kind,omitempty"`
}

// GradeResult holds one CaseResult per test case, in test case order. When
// the attempt fails as a whole it holds a single failed entry instead.
type GradeResult struct {
	Success bool `json:"success"`
	// Failure is set when the attempt failed as a whole.
	Failure   ErrorKind    `json:"failure,omitempty"`
	TestCases []CaseResult `json:"test_cases"`
}

// NewGradeResult computes Success from the case results.
func NewGradeResult(cases []CaseResult) GradeResult {
	success := len(cases) > 0
	for _, c := range cases {
		if !c.Passed {
			success = false
			break
		}
	}
	return GradeResult{Success: success, TestCases: cases}
}

// FailedAttempt builds the single-entry result used for compile errors,
// unsupported languages and script-level crashes.
func FailedAttempt(kind ErrorKind, msg string) GradeResult {
	return GradeResult{
		Success:   false,
		Failure:   kind,
		TestCases: []CaseResult{{Passed: false, Error: msg, Kind: kind}},
	}
}

// Passed counts the passing cases.
func (r GradeResult) Passed() int {
	n := 0
	for _, c := range r.TestCases {
		if c.Passed {
			n++
		}
	}
	return n
}

// Lines renders the result as the human readable lines shown on the quiz page.
func (r GradeResult) Lines() []string {
	if r.Failure != NoError && len(r.TestCases) > 0 {
		msg := r.TestCases[0].Error
		switch r.Failure {
		case CompilationError:
			return []string{"Compilation Error:\n" + msg}
		case UnsupportedLanguage:
			return []string{msg}
		default:
			return []string{"Error: " + msg}
		}
	}

	lines := make([]string, 0, len(r.TestCases))
	for i, c := range r.TestCases {
		switch {
		case c.Passed:
			lines = append(lines, fmt.Sprintf("Test case %d passed.", i+1))
		case c.Actual != nil:
			lines = append(lines, fmt.Sprintf("Test case %d failed. Output: %s, Expected: %s", i+1, *c.Actual, c.Expected))
		default:
			lines = append(lines, fmt.Sprintf("Test case %d failed. Error: %s, Expected: %s", i+1, c.Error, c.Expected))
		}
	}
	return lines
}

// HTML joins Lines with <br> the way the legacy quiz page expects. Program
// output is escaped before it is embedded.
func (r GradeResult) HTML() string {
	lines := r.Lines()
	for i, l := range lines {
		lines[i] = html.EscapeString(l)
	}
	return strings.Join(lines, "<br>")
}
