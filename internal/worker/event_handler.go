package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"freelancehub/internal/tasks"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventTaskHandler 消费业务事件任务，并按接收人发布到各自的通知频道。
type EventTaskHandler struct {
	redis  publisher
	logger *slog.Logger
}

// NewEventTaskHandler 创建任务处理器。
func NewEventTaskHandler(redisClient redis.UniversalClient, logger *slog.Logger) *EventTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventTaskHandler{redis: redisClient, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *EventTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.EventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode event payload: %w", asynq.SkipRetry)
	}

	event := payload.Event
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("event", string(event.Type)),
		slog.String("job_id", event.JobID),
	)

	data, err := json.Marshal(EventNotifyMessage{
		Type:          string(event.Type),
		JobID:         event.JobID,
		MilestoneID:   event.MilestoneID,
		SubmissionID:  event.SubmissionID,
		ActorID:       event.ActorID,
		OccurredAt:    payload.OccurredAt,
		CorrelationID: payload.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var errs []error
	for _, userID := range event.Recipients {
		if userID == "" || userID == event.ActorID {
			continue
		}
		channel := NotifyChannel(userID)
		if err := h.redis.Publish(ctx, channel, data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %q: %w", channel, err))
			continue
		}
		log.Info("event published", slog.String("channel", channel))
	}

	if err := errors.Join(errs...); err != nil {
		if isFinalAsynqAttempt(ctx) {
			log.Error("event delivery failed, giving up", slog.Any("error", err))
		} else {
			log.Warn("event delivery failed, will retry", slog.Any("error", err))
		}
		return err
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
