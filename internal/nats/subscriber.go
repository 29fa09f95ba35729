package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/models"
)

const (
	DefaultGradeRequestSubject = "grade.requested"
	DefaultQueueGroup          = "quiz-grader-group"
)

// GradeProcessor takes ownership of a decoded request. Submit must not block
// on grading; reply is empty unless the sender used request-reply.
type GradeProcessor interface {
	Submit(req models.GradeRequest, reply string)
}

type Subscriber struct {
	nc         *nats.Conn
	subject    string
	queueGroup string
	processor  GradeProcessor
	logger     *zap.Logger
}

func NewSubscriber(nc *nats.Conn, subject, queueGroup string, processor GradeProcessor, logger *zap.Logger) *Subscriber {
	if subject == "" {
		subject = DefaultGradeRequestSubject
	}
	if queueGroup == "" {
		queueGroup = DefaultQueueGroup
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		nc:         nc,
		subject:    subject,
		queueGroup: queueGroup,
		processor:  processor,
		logger:     logger.Named("subscriber"),
	}
}

// SubscribeToGradeRequests joins the queue group so each request is handled
// by exactly one runner instance.
func (s *Subscriber) SubscribeToGradeRequests() (*nats.Subscription, error) {
	subscription, err := s.nc.QueueSubscribe(s.subject, s.queueGroup, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}
	s.logger.Info("subscribed", zap.String("subject", s.subject), zap.String("queue", s.queueGroup))
	return subscription, nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var req models.GradeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("dropping malformed grade request", zap.Error(err), zap.Int("bytes", len(msg.Data)))
		return
	}
	s.logger.Debug("received grade request",
		zap.String("submission_id", req.Submission.ID),
		zap.String("language", string(req.Submission.Language)),
		zap.Int("test_cases", len(req.TestCases)))
	s.processor.Submit(req, msg.Reply)
}
