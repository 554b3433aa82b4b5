package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// JobItem points at a staged upload in object storage.
type JobItem struct {
	ObjectKey    string `json:"object_key"`
	FieldName    string `json:"field_name"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Bytes        int    `json:"bytes"`
}

// JobOutput points at a converted SVG in object storage.
type JobOutput struct {
	ObjectKey    string `json:"object_key"`
	FieldName    string `json:"field_name"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Bytes        int    `json:"bytes"`
}

type Job struct {
	ID         string      `json:"job_id"`
	Status     string      `json:"status"`
	ColorMode  ColorMode   `json:"color_mode"`
	WebhookURL string      `json:"webhook_url,omitempty"`
	Items      []JobItem   `json:"items"`
	Outputs    []JobOutput `json:"outputs,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (j Job) Finished() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if !j.ColorMode.Valid() {
		return fmt.Errorf("unsupported color mode: %q", j.ColorMode)
	}
	if len(j.Items) == 0 {
		return errors.New("job must contain at least one file")
	}
	for i, item := range j.Items {
		if strings.TrimSpace(item.ObjectKey) == "" {
			return fmt.Errorf("items[%d].object_key is required", i)
		}
	}
	if j.WebhookURL != "" {
		u, err := url.Parse(j.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid webhook_url: %q", j.WebhookURL)
		}
	}
	return nil
}
