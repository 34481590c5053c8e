package marketplace

import (
	"context"
	"log/slog"
)

// EventType 标识一次状态变化。
type EventType string

const (
	EventJobProposed        EventType = "job.proposed"
	EventJobAccepted        EventType = "job.accepted"
	EventJobRejected        EventType = "job.rejected"
	EventJobCompleted       EventType = "job.completed"
	EventMilestoneSubmitted EventType = "milestone.submitted"
	EventMilestoneApproved  EventType = "milestone.approved"
	EventMilestoneRejected  EventType = "milestone.rejected"
)

// Event 在状态迁移成功后发出，Recipients 不包含操作者本人。
type Event struct {
	Type         EventType `json:"type"`
	JobID        string    `json:"job_id"`
	MilestoneID  string    `json:"milestone_id,omitempty"`
	SubmissionID string    `json:"submission_id,omitempty"`
	ActorID      string    `json:"actor_id"`
	Recipients   []string  `json:"recipients"`
}

// Notifier 负责把事件送达对方（例如投递到异步队列）。
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier 丢弃所有事件。
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// publish 通知失败只记录日志，不影响已提交的业务结果。
func publish(ctx context.Context, n Notifier, logger *slog.Logger, event Event) {
	if n == nil || len(event.Recipients) == 0 {
		return
	}
	if err := n.Notify(ctx, event); err != nil {
		logger.Warn("notify marketplace event failed",
			slog.String("event", string(event.Type)),
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
	}
}

func recipients(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
