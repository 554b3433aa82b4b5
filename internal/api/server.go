package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/dunamismax/linework/internal/queue"
	"github.com/dunamismax/linework/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxUploadBytes = 32 << 20
	defaultRequestTimeout = 2 * time.Minute
)

// Converter runs one batch through the conversion pipeline.
type Converter interface {
	Process(ctx context.Context, items []domain.UploadedItem, mode domain.ColorMode) ([]domain.ProcessedResult, error)
}

type queueEnqueuer interface {
	EnqueueConvert(ctx context.Context, payload queue.ConvertPayload) (*asynq.TaskInfo, error)
	Queue() string
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, objectKey string) error
}

// Options wires the server. Queue, Jobs and Storage are all required for /v1/jobs; without
// them those routes answer 503.
type Options struct {
	Converter             Converter
	Queue                 queueEnqueuer
	Jobs                  store.JobStore
	Storage               objectStorage
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	MaxUploadBytes        int64
	RequestTimeout        time.Duration
}

type Server struct {
	logger                *log.Logger
	converter             Converter
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	maxUploadBytes        int64
	requestTimeout        time.Duration
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(logger *log.Logger, opts Options) (*Server, error) {
	if opts.Converter == nil {
		return nil, errors.New("converter is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.RateLimitUserIDHeader == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		converter:             opts.Converter,
		queueClient:           opts.Queue,
		jobStore:              opts.Jobs,
		storage:               opts.Storage,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		maxUploadBytes:        opts.MaxUploadBytes,
		requestTimeout:        opts.RequestTimeout,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("linework/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /primitive/{mode}", s.handleConvert)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) jobsEnabled() bool {
	return s.queueClient != nil && s.jobStore != nil && s.storage != nil
}

// statusForError maps pipeline failures onto HTTP. Client faults are 4xx, tool and I/O
// failures are 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadUpload):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, pipeline.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrInvalidColorMode):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "failed to convert files"
	}
	writeJSON(w, status, map[string]string{
		"error": message,
		"kind":  errorKind(err),
	})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return "upload_too_large"
	case errors.Is(err, errBadUpload):
		return "bad_upload"
	default:
		return pipeline.ErrorKind(err)
	}
}

func invalidMode(raw string) error {
	return fmt.Errorf("%w: %q", pipeline.ErrInvalidColorMode, raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
