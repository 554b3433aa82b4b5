package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/id"
	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/dunamismax/linework/internal/queue"
	"github.com/dunamismax/linework/internal/storage"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async jobs are disabled"})
		return
	}

	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	rawMode := up.Values["color_mode"]
	if rawMode == "" {
		rawMode = string(domain.ColorModeColor)
	}
	mode, err := domain.ParseColorMode(rawMode)
	if err != nil {
		writeError(w, invalidMode(rawMode))
		return
	}

	// Reject the whole batch before anything is staged.
	for i, item := range up.Items {
		if _, err := pipeline.Validate(item); err != nil {
			writeError(w, fmt.Errorf("file[%d] %q: %w", i, item.OriginalName, err))
			return
		}
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusQueued,
		ColorMode:  mode,
		WebhookURL: up.Values["webhook_url"],
		Items:      make([]domain.JobItem, 0, len(up.Items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, item := range up.Items {
		job.Items = append(job.Items, domain.JobItem{
			ObjectKey:    storage.UploadKey(job.ID, i),
			FieldName:    item.FieldName,
			OriginalName: item.OriginalName,
			MimeType:     item.MimeType,
			Bytes:        len(item.Content),
		})
	}
	if err := job.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.admit(w, r, len(up.Items)) {
		return
	}

	ctx := r.Context()
	if err := s.stageItems(ctx, job, up.Items); err != nil {
		s.logger.Printf("stage uploads failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store uploads"})
		return
	}

	if err := s.jobStore.Create(ctx, job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		s.removeStaged(job)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueConvert(ctx, queue.ConvertPayload{
		JobID:       job.ID,
		ColorMode:   job.ColorMode,
		WebhookURL:  job.WebhookURL,
		Items:       job.Items,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, ferr := s.jobStore.Finish(context.WithoutCancel(ctx), job.ID, domain.JobStatusFailed, nil, "enqueue failed"); ferr != nil {
			s.logger.Printf("mark job failed job_id=%s err=%v", job.ID, ferr)
		}
		s.removeStaged(job)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.jobsEnqueued.WithLabelValues(s.queueClient.Queue()).Inc()

	s.logger.Printf("job queued job_id=%s files=%d mode=%s task_id=%s", job.ID, len(job.Items), job.ColorMode, taskInfo.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"color_mode": job.ColorMode,
		"files":      len(job.Items),
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": "/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async jobs are disabled"})
		return
	}

	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) stageItems(ctx context.Context, job domain.Job, items []domain.UploadedItem) error {
	for i, item := range items {
		if err := s.storage.WriteObject(ctx, job.Items[i].ObjectKey, item.Content, item.MimeType); err != nil {
			s.removeStaged(job)
			return err
		}
	}
	return nil
}

// removeStaged drops whatever uploads made it to storage for a job that never ran.
func (s *Server) removeStaged(job domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for _, item := range job.Items {
		if err := s.storage.RemoveObject(ctx, item.ObjectKey); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Printf("remove staged uploads failed job_id=%s err=%v", job.ID, err)
	}
}
