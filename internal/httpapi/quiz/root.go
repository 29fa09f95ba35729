// Package quizservice grades quiz submissions and reports progress.
package quizservice

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/httpapi"
	"github.com/Mirai3103/quiz-grader/internal/models"
	"github.com/Mirai3103/quiz-grader/internal/session"
	"github.com/Mirai3103/quiz-grader/internal/store"
)

type Grader interface {
	Grade(ctx context.Context, sub models.Submission, cases []models.TestCase) models.GradeResult
	GradeProgram(ctx context.Context, sub models.Submission, cases []models.TestCase, questionExpected string) models.GradeResult
}

type QuestionStore interface {
	GetQuestion(ctx context.Context, id string) (*store.Question, error)
	ListTestCases(ctx context.Context, questionID string) ([]models.TestCase, error)
	SaveSubmission(ctx context.Context, rec *store.SubmissionRecord) error
	ListSubmissions(ctx context.Context, rollNo string, limit int64) ([]store.SubmissionRecord, error)
}

// Recorder counts submissions; *metrics.Metrics satisfies it.
type Recorder interface {
	RecordSubmission(route, result string)
}

const (
	defaultGradeTimeout = 5 * time.Minute
	busyMessage         = "The grader is busy. Please try again later."
)

type Option func(*QuizService)

// WithGradeLimits bounds one grading request to timeout, slot wait
// included, and allows at most maxConcurrent gradings at once. A
// non-positive maxConcurrent leaves concurrency unbounded.
func WithGradeLimits(timeout time.Duration, maxConcurrent int) Option {
	return func(s *QuizService) {
		if timeout > 0 {
			s.gradeTimeout = timeout
		}
		if maxConcurrent > 0 {
			s.gradeSlots = make(chan struct{}, maxConcurrent)
		}
	}
}

type QuizService struct {
	grader       Grader
	store        QuestionStore
	recorder     Recorder
	logger       *zap.Logger
	gradeTimeout time.Duration
	gradeSlots   chan struct{}
}

// NewQuizService wires the handlers. store and recorder may be nil; without
// a store only the hardcoded quiz question is served.
func NewQuizService(grader Grader, store QuestionStore, recorder Recorder, logger *zap.Logger, opts ...Option) *QuizService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QuizService{
		grader:       grader,
		store:        store,
		recorder:     recorder,
		logger:       logger.Named("quiz"),
		gradeTimeout: defaultGradeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *QuizService) Register(router gin.IRouter) {
	authed := router.Group("", session.RequireLogin())
	authed.POST("/quiz/submit", s.SubmitQuiz)
	if s.store != nil {
		authed.POST("/questions/:id/submit", s.SubmitQuestion)
		authed.GET("/progress", s.Progress)
	}
}

// grade runs fn under the grading deadline once a slot is free. It answers
// 503 itself and returns false when no slot frees up in time.
func (s *QuizService) grade(c *gin.Context, fn func(ctx context.Context) models.GradeResult) (models.GradeResult, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.gradeTimeout)
	defer cancel()

	if s.gradeSlots != nil {
		select {
		case s.gradeSlots <- struct{}{}:
			defer func() { <-s.gradeSlots }()
		case <-ctx.Done():
			s.logger.Warn("no grading slot available", zap.Error(ctx.Err()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": busyMessage})
			return models.GradeResult{}, false
		}
	}
	return fn(ctx), true
}

func (s *QuizService) record(route string, result models.GradeResult) {
	if s.recorder == nil {
		return
	}
	status := "failed"
	if result.Success {
		status = "success"
	}
	s.recorder.RecordSubmission(route, status)
}

var _ httpapi.Service = (*QuizService)(nil)
