package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeShrinkImage = "image:shrink"

type ShrinkImagePayload struct {
	JobID        string    `json:"job_id"`
	SourceType   string    `json:"source_type"`
	ObjectKey    string    `json:"object_key"`
	OutputFormat string    `json:"output_format,omitempty"`
	Geometry     string    `json:"geometry,omitempty"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

func NewShrinkImageTask(payload ShrinkImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal shrink payload: %w", err)
	}
	return asynq.NewTask(TypeShrinkImage, body), nil
}

func ParseShrinkImagePayload(task *asynq.Task) (ShrinkImagePayload, error) {
	var payload ShrinkImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ShrinkImagePayload{}, fmt.Errorf("unmarshal shrink payload: %w", err)
	}
	if payload.JobID == "" {
		return ShrinkImagePayload{}, fmt.Errorf("shrink payload is missing job_id")
	}
	return payload, nil
}
