package quizservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Mirai3103/quiz-grader/internal/models"
	"github.com/Mirai3103/quiz-grader/internal/session"
	"github.com/Mirai3103/quiz-grader/internal/store"
)

type fakeGrader struct {
	mu        sync.Mutex
	result    models.GradeResult
	subs      []models.Submission
	cases     [][]models.TestCase
	expected  []string
	deadlines []time.Time

	// started and release, when set, hold Grade until the test lets go
	started chan struct{}
	release chan struct{}
}

func (f *fakeGrader) Grade(ctx context.Context, sub models.Submission, cases []models.TestCase) models.GradeResult {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline, _ := ctx.Deadline()
	f.deadlines = append(f.deadlines, deadline)
	f.subs = append(f.subs, sub)
	f.cases = append(f.cases, cases)
	return f.result
}

func (f *fakeGrader) GradeProgram(_ context.Context, sub models.Submission, cases []models.TestCase, expected string) models.GradeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	f.cases = append(f.cases, cases)
	f.expected = append(f.expected, expected)
	return f.result
}

type fakeStore struct {
	questions map[string]*store.Question
	cases     map[string][]models.TestCase
	saved     []*store.SubmissionRecord
	listed    []store.SubmissionRecord
	limit     int64
	err       error
}

func (f *fakeStore) GetQuestion(_ context.Context, id string) (*store.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, store.ErrInvalidID
	}
	q, ok := f.questions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return q, nil
}

func (f *fakeStore) ListTestCases(_ context.Context, id string) ([]models.TestCase, error) {
	return f.cases[id], nil
}

func (f *fakeStore) SaveSubmission(_ context.Context, rec *store.SubmissionRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) ListSubmissions(_ context.Context, _ string, limit int64) ([]store.SubmissionRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.listed, nil
}

type fixedSessions struct{}

func (fixedSessions) Get(_ context.Context, token string) (session.Session, error) {
	if token == "good" {
		return session.Student{Roll: "21CS001", Token: token}, nil
	}
	return session.Anonymous{}, nil
}
func (fixedSessions) Create(context.Context, string) (string, error) { return "", nil }
func (fixedSessions) Delete(context.Context, string) error           { return nil }

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) RecordSubmission(route, result string) {
	r.counts[route+"/"+result]++
}

func newRouter(svc *QuizService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(session.Middleware(fixedSessions{}, nil))
	svc.Register(r)
	return r
}

func do(r http.Handler, req *http.Request, loggedIn bool) *httptest.ResponseRecorder {
	if loggedIn {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "good"})
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func passingResult() models.GradeResult {
	return models.NewGradeResult([]models.CaseResult{
		{Passed: true, Expected: "4"},
		{Passed: true, Expected: "25"},
		{Passed: true, Expected: "100"},
	})
}

func TestSubmitQuizRequiresLogin(t *testing.T) {
	grader := &fakeGrader{result: passingResult()}
	r := newRouter(NewQuizService(grader, nil, nil, nil))

	rec := do(r, formRequest("/quiz/submit", url.Values{"code": {"x"}, "language": {"python"}}), false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Please log in first."}`, rec.Body.String())
	assert.Empty(t, grader.subs)
}

func TestSubmitQuizForm(t *testing.T) {
	grader := &fakeGrader{result: passingResult()}
	recorder := &countingRecorder{counts: map[string]int{}}
	r := newRouter(NewQuizService(grader, nil, recorder, nil))

	rec := do(r, formRequest("/quiz/submit", url.Values{
		"code":        {"def square(x):\n    return x*x"},
		"language":    {"python"},
		"question_id": {"1"},
	}), true)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.GradeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Len(t, got.TestCases, 3)

	require.Len(t, grader.subs, 1)
	assert.Equal(t, models.Python, grader.subs[0].Language)
	assert.Equal(t, "1", grader.subs[0].QuestionID)
	assert.NotEmpty(t, grader.subs[0].ID)
	assert.Equal(t, SquareCases, grader.cases[0])
	assert.Equal(t, 1, recorder.counts["quiz/success"])
}

func TestSubmitQuizHTML(t *testing.T) {
	out := "26"
	grader := &fakeGrader{result: models.NewGradeResult([]models.CaseResult{
		{Passed: true, Expected: "4"},
		{Passed: false, Expected: "25", Actual: &out},
	})}
	r := newRouter(NewQuizService(grader, nil, nil, nil))

	rec := do(r, jsonRequest("/quiz/submit?format=html", `{"code":"x","language":"python"}`), true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "Test case 1 passed.<br>Test case 2 failed. Output: 26, Expected: 25", rec.Body.String())
}

func TestSubmitQuizMissingFields(t *testing.T) {
	grader := &fakeGrader{}
	r := newRouter(NewQuizService(grader, nil, nil, nil))

	rec := do(r, jsonRequest("/quiz/submit", `{"language":"python"}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, grader.subs)
}

func TestSubmitQuestion(t *testing.T) {
	qid := primitive.NewObjectID()
	st := &fakeStore{
		questions: map[string]*store.Question{qid.Hex(): {ID: qid, Title: "Hello", ExpectedOutput: "hello"}},
		cases:     map[string][]models.TestCase{},
	}
	grader := &fakeGrader{result: models.NewGradeResult([]models.CaseResult{{Passed: true, Expected: "hello"}})}
	r := newRouter(NewQuizService(grader, st, nil, nil))

	rec := do(r, jsonRequest("/questions/"+qid.Hex()+"/submit", `{"code":"print('hello')","language":"Python"}`), true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, grader.expected, 1)
	assert.Equal(t, "hello", grader.expected[0])
	assert.Empty(t, grader.cases[0])
	assert.Equal(t, qid.Hex(), grader.subs[0].QuestionID)

	require.Len(t, st.saved, 1)
	saved := st.saved[0]
	assert.Equal(t, "21CS001", saved.RollNo)
	assert.Equal(t, qid, saved.QuestionID)
	assert.Equal(t, "python", saved.Language)
	assert.True(t, saved.Success)
	assert.Equal(t, 1, saved.Passed)
	assert.Equal(t, 1, saved.Total)
}

func TestSubmitQuestionErrors(t *testing.T) {
	st := &fakeStore{questions: map[string]*store.Question{}}
	grader := &fakeGrader{}
	r := newRouter(NewQuizService(grader, st, nil, nil))

	rec := do(r, jsonRequest("/questions/nope/submit", `{"code":"x","language":"python"}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, jsonRequest("/questions/"+primitive.NewObjectID().Hex()+"/submit", `{"code":"x","language":"python"}`), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	st.err = errors.New("connection reset")
	rec = do(r, jsonRequest("/questions/"+primitive.NewObjectID().Hex()+"/submit", `{"code":"x","language":"python"}`), true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")

	assert.Empty(t, grader.subs)
}

func TestProgress(t *testing.T) {
	st := &fakeStore{listed: []store.SubmissionRecord{{RollNo: "21CS001", Language: "java", Passed: 2, Total: 3}}}
	r := newRouter(NewQuizService(&fakeGrader{}, st, nil, nil))

	rec := do(r, httptest.NewRequest(http.MethodGet, "/progress?limit=500", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(maxProgressLimit), st.limit)

	var body struct {
		RollNo      string                   `json:"rollNo"`
		Submissions []store.SubmissionRecord `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "21CS001", body.RollNo)
	require.Len(t, body.Submissions, 1)
	assert.Equal(t, 2, body.Submissions[0].Passed)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/progress?limit=-1", nil), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/progress", nil), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutesWithoutStore(t *testing.T) {
	r := newRouter(NewQuizService(&fakeGrader{}, nil, nil, nil))
	rec := do(r, httptest.NewRequest(http.MethodGet, "/progress", nil), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitQuizGradesUnderDeadline(t *testing.T) {
	grader := &fakeGrader{result: passingResult()}
	r := newRouter(NewQuizService(grader, nil, nil, nil, WithGradeLimits(2*time.Second, 4)))

	before := time.Now()
	rec := do(r, jsonRequest("/quiz/submit", `{"code":"x","language":"python"}`), true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, grader.deadlines, 1)
	deadline := grader.deadlines[0]
	assert.False(t, deadline.IsZero())
	assert.WithinDuration(t, before.Add(2*time.Second), deadline, time.Second)
}

func TestSubmitQuizDefaultDeadline(t *testing.T) {
	grader := &fakeGrader{result: passingResult()}
	r := newRouter(NewQuizService(grader, nil, nil, nil))

	rec := do(r, jsonRequest("/quiz/submit", `{"code":"x","language":"python"}`), true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, grader.deadlines, 1)
	assert.False(t, grader.deadlines[0].IsZero())
}

func TestSubmitQuizBusyWhenSlotsTaken(t *testing.T) {
	grader := &fakeGrader{
		result:  passingResult(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := newRouter(NewQuizService(grader, nil, nil, nil, WithGradeLimits(200*time.Millisecond, 1)))

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- do(r, jsonRequest("/quiz/submit", `{"code":"x","language":"python"}`), true)
	}()
	<-grader.started

	rec := do(r, jsonRequest("/quiz/submit", `{"code":"y","language":"python"}`), true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"The grader is busy. Please try again later."}`, rec.Body.String())

	close(grader.release)
	assert.Equal(t, http.StatusOK, (<-first).Code)
	assert.Len(t, grader.subs, 1)
}

func TestSubmitQuestionUnsupportedLanguageNotSaved(t *testing.T) {
	qid := primitive.NewObjectID()
	st := &fakeStore{
		questions: map[string]*store.Question{qid.Hex(): {ID: qid, ExpectedOutput: "hello"}},
		cases:     map[string][]models.TestCase{},
	}
	grader := &fakeGrader{result: models.FailedAttempt(models.UnsupportedLanguage, "Unsupported language: ruby")}
	r := newRouter(NewQuizService(grader, st, nil, nil))

	rec := do(r, jsonRequest("/questions/"+qid.Hex()+"/submit", `{"code":"puts 1","language":"ruby"}`), true)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.GradeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Success)
	assert.Empty(t, st.saved)
}
