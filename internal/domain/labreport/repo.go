package labreport

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrReportNotFound is returned when no report has the requested ID.
var ErrReportNotFound = errors.New("report not found")

// ReportFilter narrows List. Empty fields match every report.
type ReportFilter struct {
	UserID string
}

// ReportRepository is the persistence collaborator for analyzed reports.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// List returns one page of reports matching f, newest first, and the
	// number of matching reports.
	List(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
