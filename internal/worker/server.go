package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/linework/internal/config"
	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/dunamismax/linework/internal/queue"
	"github.com/dunamismax/linework/internal/storage"
	"github.com/dunamismax/linework/internal/store"
	"github.com/dunamismax/linework/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type converter interface {
	Process(ctx context.Context, items []domain.UploadedItem, mode domain.ColorMode) ([]domain.ProcessedResult, error)
}

type objectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators a conversion task needs. Webhook may be nil.
type Deps struct {
	Converter converter
	Storage   objectStore
	Jobs      store.JobStore
	Webhook   webhookSender
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	converter     converter
	objects       objectStore
	jobStore      store.JobStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	s, err := newServer(logger, workerCfg.MaxActiveJobs, deps)
	if err != nil {
		return nil, err
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				s.logger.Printf("task failed type=%s retry=%d/%d kind=%s err=%v", task.Type(), retried, maxRetry, failureKind(err), err)
			}),
		},
	)
	return s, nil
}

func newServer(logger *log.Logger, maxActiveJobs int, deps Deps) (*Server, error) {
	if deps.Converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if deps.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Server{
		logger:        logger,
		sem:           make(chan struct{}, max(1, maxActiveJobs)),
		converter:     deps.Converter,
		objects:       deps.Storage,
		jobStore:      deps.Jobs,
		webhookClient: deps.Webhook,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("linework/worker"),
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvert, s.handleConvert)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvert(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.color_mode", string(payload.ColorMode)),
		attribute.Int("job.files", len(payload.Items)),
	)
	defer span.End()
	defer func() {
		s.metrics.observeJob(string(payload.ColorMode), outcome, time.Since(startedAt))
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("converting job_id=%s files=%d mode=%s", payload.JobID, len(payload.Items), payload.ColorMode)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	outputs, err := s.convert(ctx, payload)
	if err != nil {
		span.RecordError(err)
		kind := failureKind(err)
		span.SetStatus(codes.Error, kind)
		s.metrics.failuresTotal.WithLabelValues(kind).Inc()

		permanent := permanentFailure(err)
		if permanent || finalAttempt(ctx) {
			s.fail(ctx, payload, err)
		}
		if permanent {
			return fmt.Errorf("convert job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("convert job %s: %w", payload.JobID, err)
	}

	if _, err := s.jobStore.Finish(ctx, payload.JobID, domain.JobStatusSucceeded, outputs, ""); err != nil {
		s.logger.Printf("record job result failed job_id=%s err=%v", payload.JobID, err)
	}
	s.metrics.filesTotal.WithLabelValues(string(payload.ColorMode)).Add(float64(len(outputs)))
	s.logger.Printf("converted job_id=%s outputs=%d duration=%s", payload.JobID, len(outputs), time.Since(startedAt).Round(time.Millisecond))

	s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, webhook.JobEvent{
		JobID:       payload.JobID,
		Status:      domain.JobStatusSucceeded,
		ColorMode:   payload.ColorMode,
		Files:       len(payload.Items),
		Outputs:     outputs,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

// convert loads the staged uploads, runs the batch and writes one SVG per file.
func (s *Server) convert(ctx context.Context, payload queue.ConvertPayload) ([]domain.JobOutput, error) {
	items := make([]domain.UploadedItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		content, err := s.objects.ReadObject(ctx, item.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("load upload: %w", err)
		}
		items = append(items, domain.UploadedItem{
			Content:      content,
			MimeType:     item.MimeType,
			FieldName:    item.FieldName,
			OriginalName: item.OriginalName,
		})
	}

	results, err := s.converter.Process(ctx, items, payload.ColorMode)
	if err != nil {
		return nil, err
	}

	outputs := make([]domain.JobOutput, 0, len(results))
	for i, res := range results {
		key := storage.OutputKey(payload.JobID, i)
		if err := s.objects.WriteObject(ctx, key, []byte(res.SVG), pipeline.MimeSVG); err != nil {
			return nil, fmt.Errorf("store output: %w", err)
		}
		outputs = append(outputs, domain.JobOutput{
			ObjectKey:    key,
			FieldName:    res.FieldName,
			OriginalName: res.OriginalName,
			MimeType:     res.MimeType,
			Bytes:        len(res.SVG),
		})
	}
	return outputs, nil
}

func (s *Server) fail(ctx context.Context, payload queue.ConvertPayload, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.jobStore.Finish(ctx, payload.JobID, domain.JobStatusFailed, nil, cause.Error()); err != nil {
		s.logger.Printf("record job failure failed job_id=%s err=%v", payload.JobID, err)
	}
	s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
		JobID:       payload.JobID,
		Status:      domain.JobStatusFailed,
		ColorMode:   payload.ColorMode,
		Files:       len(payload.Items),
		Error:       cause.Error(),
		ErrorKind:   failureKind(cause),
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	})
}

// finalAttempt reports whether asynq will not run the task again after a failure.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook never fails the task: the conversion result is already recorded.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertPayload, event string, body webhook.JobEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

// permanentFailure reports errors a retry cannot fix: bad input, or a staged upload that is
// gone.
func permanentFailure(err error) bool {
	return pipeline.Permanent(err) || errors.Is(err, storage.ErrObjectNotFound)
}

func failureKind(err error) string {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "missing_upload"
	}
	return pipeline.ErrorKind(err)
}
