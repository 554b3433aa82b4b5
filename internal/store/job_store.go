package store

import (
	"context"
	"errors"

	"github.com/dunamismax/linework/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Finish records the terminal status together with the outputs or the failure message.
	Finish(ctx context.Context, id, status string, outputs []domain.JobOutput, errMsg string) (domain.Job, error)
}
