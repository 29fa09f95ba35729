package quizservice

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/models"
	"github.com/Mirai3103/quiz-grader/internal/session"
	"github.com/Mirai3103/quiz-grader/internal/store"
)

// SquareCases is the built-in quiz question: square(x) for three inputs.
var SquareCases = []models.TestCase{
	{ID: "1", Input: "2", ExpectedOutput: "4"},
	{ID: "2", Input: "5", ExpectedOutput: "25"},
	{ID: "3", Input: "10", ExpectedOutput: "100"},
}

type submitRequest struct {
	Code       string `form:"code" json:"code" binding:"required"`
	Language   string `form:"language" json:"language" binding:"required"`
	QuestionID string `form:"question_id" json:"question_id"`
}

func bindSubmission(c *gin.Context) (submitRequest, bool) {
	var req submitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and language are required"})
		return req, false
	}
	return req, true
}

// SubmitQuiz grades the hardcoded square question. With format=html the
// legacy <br>-joined fragment is returned instead of JSON.
func (s *QuizService) SubmitQuiz(c *gin.Context) {
	req, ok := bindSubmission(c)
	if !ok {
		return
	}
	sub := models.Submission{
		ID:         uuid.NewString(),
		QuestionID: req.QuestionID,
		Language:   models.Language(req.Language),
		Code:       req.Code,
	}
	result, ok := s.grade(c, func(ctx context.Context) models.GradeResult {
		return s.grader.Grade(ctx, sub, SquareCases)
	})
	if !ok {
		return
	}
	s.record("quiz", result)

	if c.Query("format") == "html" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(result.HTML()))
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitQuestion grades a stored question by running the whole program per
// test case and keeps a record of the attempt.
func (s *QuizService) SubmitQuestion(c *gin.Context) {
	ctx := c.Request.Context()
	questionID := c.Param("id")

	question, err := s.store.GetQuestion(ctx, questionID)
	switch {
	case errors.Is(err, store.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question id"})
		return
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	case err != nil:
		s.logger.Error("failed to load question", zap.String("question_id", questionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load the question. Please try again later."})
		return
	}

	req, ok := bindSubmission(c)
	if !ok {
		return
	}

	cases, err := s.store.ListTestCases(ctx, questionID)
	if err != nil {
		s.logger.Error("failed to load test cases", zap.String("question_id", questionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load the question. Please try again later."})
		return
	}

	sub := models.Submission{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		Language:   models.Language(req.Language),
		Code:       req.Code,
	}
	result, ok := s.grade(c, func(gradeCtx context.Context) models.GradeResult {
		return s.grader.GradeProgram(gradeCtx, sub, cases, question.ExpectedOutput)
	})
	if !ok {
		return
	}
	s.record("question", result)

	lang, ok := models.ParseLanguage(req.Language)
	if !ok {
		// nothing ran, so there is no attempt to keep
		c.JSON(http.StatusOK, result)
		return
	}
	rec := &store.SubmissionRecord{
		RollNo:     session.FromContext(c).RollNo(),
		QuestionID: question.ID,
		Language:   string(lang),
		Success:    result.Success,
		Passed:     result.Passed(),
		Total:      len(result.TestCases),
	}
	if rec.QuestionID.IsZero() {
		rec.QuestionID, _ = primitive.ObjectIDFromHex(questionID)
	}
	if err := s.store.SaveSubmission(ctx, rec); err != nil {
		// the student still gets the verdict
		s.logger.Error("failed to save submission", zap.String("submission_id", sub.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, result)
}
