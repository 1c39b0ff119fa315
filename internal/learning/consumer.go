package learning

import (
	"github.com/sirupsen/logrus"
)

// LogConsumer records outcomes as structured log entries. It stands in for
// the external learning subsystem, which consumes the same Outcome shape.
type LogConsumer struct {
	logger *logrus.Logger
}

// NewLogConsumer creates a consumer that logs every outcome.
func NewLogConsumer(logger *logrus.Logger) *LogConsumer {
	return &LogConsumer{logger: logger}
}

func (c *LogConsumer) Consume(outcome Outcome) {
	c.logger.WithFields(logrus.Fields{
		"content_hash": outcome.ContentHash,
		"detected":     outcome.Detected,
		"severity":     outcome.Severity,
		"categories":   outcome.Categories,
		"should_block": outcome.ShouldBlock,
	}).Debug("Detection outcome recorded for learning")
}
