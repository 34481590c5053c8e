package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"freelancehub/internal/marketplace"
)

type correlationIDKey struct{}

// WithCorrelationID 把请求的 Correlation ID 放入 context，随任务一起投递。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext 读取 WithCorrelationID 写入的值。
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher 把业务事件投递到 asynq，实现 marketplace.Notifier。
type Dispatcher struct {
	client enqueuer
	now    func() time.Time
}

func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client, now: time.Now}
}

func (d *Dispatcher) Notify(ctx context.Context, event marketplace.Event) error {
	task, err := NewEventTask(event, d.now(), CorrelationIDFromContext(ctx))
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Type, err)
	}
	return nil
}
