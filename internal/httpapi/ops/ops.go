// Package opsservice exposes liveness and Prometheus endpoints.
package opsservice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mirai3103/quiz-grader/internal/httpapi"
)

type OpsService struct {
	metrics http.Handler
}

// NewOpsService serves /metrics from the given handler when it is non-nil.
func NewOpsService(metrics http.Handler) *OpsService {
	return &OpsService{metrics: metrics}
}

func (s *OpsService) Register(router gin.IRouter) {
	router.GET("/healthz", s.Healthz)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

func (s *OpsService) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var _ httpapi.Service = (*OpsService)(nil)
