package worker

import "time"

// EventNotifyMessage 是通过 Redis Pub/Sub 转发给前端的 WebSocket 消息。
// 注意：字段名与前端解析保持一致。
type EventNotifyMessage struct {
	Type          string    `json:"type"`
	JobID         string    `json:"job_id"`
	MilestoneID   string    `json:"milestone_id,omitempty"`
	SubmissionID  string    `json:"submission_id,omitempty"`
	ActorID       string    `json:"actor_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NotifyChannel 返回用户的通知频道名。
func NotifyChannel(userID string) string {
	return "user_notify:" + userID
}
