package quizservice

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/session"
)

const (
	defaultProgressLimit = 20
	maxProgressLimit     = 100
)

// Progress lists the caller's latest submissions, newest first.
func (s *QuizService) Progress(c *gin.Context) {
	limit := int64(defaultProgressLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxProgressLimit)
	}

	rollNo := session.FromContext(c).RollNo()
	records, err := s.store.ListSubmissions(c.Request.Context(), rollNo, limit)
	if err != nil {
		s.logger.Error("failed to list submissions", zap.String("roll_no", rollNo), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load your progress. Please try again later."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rollNo": rollNo, "submissions": records})
}
