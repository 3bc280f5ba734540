package pipeline

import (
	"time"

	"go.uber.org/zap"
)

// Summary is the controller's account of a finished run.
type Summary struct {
	RunID         string
	TargetDate    string
	Reason        Reason
	Queued        int
	Parsed        int
	Flushed       int
	FetchFailures int
	Pages         int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration is the wall time between start and finish.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Fields renders the summary for structured logging.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("target_date", s.TargetDate),
		zap.String("reason", string(s.Reason)),
		zap.Int("queued", s.Queued),
		zap.Int("parsed", s.Parsed),
		zap.Int("flushed", s.Flushed),
		zap.Int("fetch_failures", s.FetchFailures),
		zap.Int("pages", s.Pages),
		zap.Duration("duration", s.Duration()),
	}
}
