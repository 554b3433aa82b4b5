package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/hibiken/asynq"
)

func TestConvertTaskRoundTrip(t *testing.T) {
	payload := ConvertPayload{
		JobID:     "job-123",
		ColorMode: domain.ColorModeMonochrome,
		Items: []domain.JobItem{
			{ObjectKey: "uploads/job-123/0", FieldName: "file", OriginalName: "a.png", MimeType: "image/png", Bytes: 12},
			{ObjectKey: "uploads/job-123/1", FieldName: "file", OriginalName: "b.gif", MimeType: "image/gif", Bytes: 34},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewConvertTask(payload)
	if err != nil {
		t.Fatalf("NewConvertTask returned error: %v", err)
	}
	if task.Type() != TypeConvert {
		t.Fatalf("expected task type %q, got %q", TypeConvert, task.Type())
	}

	parsed, err := ParseConvertPayload(task)
	if err != nil {
		t.Fatalf("ParseConvertPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID || parsed.ColorMode != payload.ColorMode {
		t.Fatalf("unexpected payload %+v", parsed)
	}
	if len(parsed.Items) != 2 || parsed.Items[1].OriginalName != "b.gif" {
		t.Fatalf("items did not survive the round trip: %+v", parsed.Items)
	}
}

func TestNewConvertTaskRequiresJobID(t *testing.T) {
	if _, err := NewConvertTask(ConvertPayload{}); err == nil {
		t.Fatal("expected error without job id")
	}
}

func TestParseConvertPayloadRejectsGarbage(t *testing.T) {
	if _, err := ParseConvertPayload(asynq.NewTask(TypeConvert, []byte("{"))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
