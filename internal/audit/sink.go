package audit

import (
	"context"
	"log/slog"

	"smartlocker/internal/queue"
)

// Sink writes queued events to the repository.
type Sink struct {
	repo   *Repository
	logger *slog.Logger
}

// NewSink creates a sink. A nil logger uses slog.Default.
func NewSink(repo *Repository, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{repo: repo, logger: logger}
}

// Handle decodes and stores one message.
func (s *Sink) Handle(ctx context.Context, msg queue.Message) (Event, error) {
	var evt Event
	if err := msg.Decode(&evt); err != nil {
		return Event{}, err
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	return s.repo.Insert(ctx, evt)
}

// Run consumes q until ctx is done or the stream closes. Bad messages are
// logged and skipped.
func (s *Sink) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		evt, err := s.Handle(ctx, msg)
		if err != nil {
			s.logger.Error("audit event not stored", "type", msg.Type, "error", err)
			continue
		}
		s.logger.Info("audit event stored", "type", evt.Type, "id", evt.ID, "student_id", evt.StudentID, "locker_id", evt.LockerID)
	}
	return ctx.Err()
}
