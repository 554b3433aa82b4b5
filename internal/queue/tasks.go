package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeConvert = "primitive:convert"

type ConvertPayload struct {
	JobID       string           `json:"job_id"`
	ColorMode   domain.ColorMode `json:"color_mode"`
	WebhookURL  string           `json:"webhook_url,omitempty"`
	Items       []domain.JobItem `json:"items"`
	RequestedAt time.Time        `json:"requested_at"`
}

func NewConvertTask(payload ConvertPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("convert payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvert, body), nil
}

func ParseConvertPayload(task *asynq.Task) (ConvertPayload, error) {
	var payload ConvertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertPayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}
