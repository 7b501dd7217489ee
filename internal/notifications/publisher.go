package notifications

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Publisher delivers committed workflow events. Delivery is best effort; the
// workflow never rolls back because a publish failed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the application log.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs each event at info level.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("Workflow event",
		zap.String("event_type", string(event.Type)),
		zap.String("submission_id", event.SubmissionID.String()),
		zap.String("submission_status", string(event.SubmissionStatus)),
		zap.String("actor_id", event.ActorID),
		zap.Int64("version", event.Version))
	return nil
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
