package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/config"
	"github.com/Mirai3103/quiz-grader/internal/models"
)

const unknownModeMessage = "Unsupported grading mode."

type Grader interface {
	Grade(ctx context.Context, sub models.Submission, cases []models.TestCase) models.GradeResult
	GradeProgram(ctx context.Context, sub models.Submission, cases []models.TestCase, questionExpected string) models.GradeResult
}

type ResultPublisher interface {
	PublishGradeResult(resp models.GradeResponse) error
	Respond(reply string, resp models.GradeResponse) error
}

type Option func(*JobHandler)

// WithInFlightGauge reports the number of jobs holding a slot.
func WithInFlightGauge(g prometheus.Gauge) Option {
	return func(h *JobHandler) { h.inFlight = g }
}

// JobHandler grades requests in the background with bounded concurrency.
type JobHandler struct {
	publisher    ResultPublisher
	grader       Grader
	jobSemaphore chan struct{}
	jobTimeout   time.Duration
	inFlight     prometheus.Gauge
	logger       *zap.Logger
	wg           sync.WaitGroup
}

func NewJobHandler(publisher ResultPublisher, grader Grader, runnerCfg config.RunnerConfig, logger *zap.Logger, opts ...Option) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &JobHandler{
		publisher:  publisher,
		grader:     grader,
		jobTimeout: runnerCfg.JobTimeout(),
		logger:     logger.Named("job_handler"),
	}
	if runnerCfg.MaxConcurrentJobs > 0 {
		h.jobSemaphore = make(chan struct{}, runnerCfg.MaxConcurrentJobs)
		h.logger.Info("job handler initialized", zap.Int("max_concurrent_jobs", runnerCfg.MaxConcurrentJobs))
	} else {
		h.logger.Info("job handler initialized without a concurrency limit")
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit starts grading in its own goroutine.
func (h *JobHandler) Submit(req models.GradeRequest, reply string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.HandleGrade(context.Background(), req, reply)
	}()
}

// Wait blocks until every submitted job has published its result.
func (h *JobHandler) Wait() {
	h.wg.Wait()
}

// HandleGrade grades one request and publishes the response. It waits for a
// free slot first; the job timeout only starts once the slot is held.
func (h *JobHandler) HandleGrade(ctx context.Context, req models.GradeRequest, reply string) models.GradeResponse {
	if req.Submission.ID == "" {
		req.Submission.ID = uuid.NewString()
	}
	log := h.logger.With(zap.String("submission_id", req.Submission.ID))

	if h.jobSemaphore != nil {
		waitStart := time.Now()
		h.jobSemaphore <- struct{}{}
		log.Debug("slot acquired", zap.Duration("waited", time.Since(waitStart)))
		defer func() { <-h.jobSemaphore }()
	}
	if h.inFlight != nil {
		h.inFlight.Inc()
		defer h.inFlight.Dec()
	}

	jobCtx, cancel := context.WithTimeout(ctx, h.jobTimeout)
	defer cancel()

	var result models.GradeResult
	switch req.Mode {
	case models.ModeHarness, "":
		result = h.grader.Grade(jobCtx, req.Submission, req.TestCases)
	case models.ModeProgram:
		result = h.grader.GradeProgram(jobCtx, req.Submission, req.TestCases, req.ExpectedOutput)
	default:
		log.Warn("unknown grading mode", zap.String("mode", string(req.Mode)))
		result = models.FailedAttempt(models.RuntimeError, unknownModeMessage)
	}

	resp := models.GradeResponse{SubmissionID: req.Submission.ID, Result: result}
	if err := h.publisher.PublishGradeResult(resp); err != nil {
		log.Error("failed to publish grade result", zap.Error(err))
	}
	if reply != "" {
		if err := h.publisher.Respond(reply, resp); err != nil {
			log.Error("failed to respond", zap.String("reply", reply), zap.Error(err))
		}
	}
	return resp
}
