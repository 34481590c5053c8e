package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"freelancehub/internal/marketplace"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeMarketplaceEvent = "marketplace:event"
)

// EventPayload 携带一次业务事件及其发生时间。
type EventPayload struct {
	Event         marketplace.Event `json:"event"`
	OccurredAt    time.Time         `json:"occurred_at"`
	CorrelationID string            `json:"correlation_id"`
}

// NewEventTask 构造一个事件分发任务。
func NewEventTask(event marketplace.Event, occurredAt time.Time, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(EventPayload{
		Event:         event,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return asynq.NewTask(TypeMarketplaceEvent, payload, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)), nil
}
