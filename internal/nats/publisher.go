package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Mirai3103/quiz-grader/internal/models"
)

const DefaultGradeResultSubject = "grade.completed"

type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

func NewPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultGradeResultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger.Named("publisher")}
}

// PublishGradeResult broadcasts a finished grading on the result subject.
func (p *Publisher) PublishGradeResult(resp models.GradeResponse) error {
	return p.publish(p.subject, resp)
}

// Respond answers a request-reply caller on its inbox.
func (p *Publisher) Respond(reply string, resp models.GradeResponse) error {
	if reply == "" {
		return nil
	}
	return p.publish(reply, resp)
}

func (p *Publisher) publish(subject string, resp models.GradeResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal grade response: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("publish failed", zap.String("subject", subject), zap.String("submission_id", resp.SubmissionID), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.logger.Debug("published grade result",
		zap.String("subject", subject),
		zap.String("submission_id", resp.SubmissionID),
		zap.Bool("success", resp.Result.Success))
	return nil
}
