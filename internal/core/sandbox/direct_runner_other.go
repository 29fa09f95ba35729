//go:build !unix

package sandbox

import (
	"context"

	"go.uber.org/zap"
)

// DirectExecutor needs process groups; on other hosts use the isolate
// sandbox or a unix worker.
type DirectExecutor struct {
	logger *zap.Logger
}

func NewDirectExecutor(logger *zap.Logger) *DirectExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectExecutor{logger: logger.Named("direct")}
}

func (e *DirectExecutor) ID() string {
	return "direct_executor_v2"
}

func (e *DirectExecutor) Execute(context.Context, RunRequest) (*ExecuteResult, error) {
	return nil, &Error{Type: ErrInternal, Message: "direct sandbox requires a unix host"}
}
