package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/conduit/pkg/api"
)

// ErrRunNotFound is returned when a run record is not found.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the persisted summary of one pipeline run. It is an audit
// trail, not a resumption point: step functions are never stored.
type RunRecord struct {
	ID         string
	Pipeline   string
	Status     api.Status
	Completed  []string
	Pending    []string
	Error      string
	Context    []byte // EncodeContext payload
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRunRecord converts a run summary into a record.
func NewRunRecord(sum api.RunSummary) (RunRecord, error) {
	payload, err := EncodeContext(sum.Context)
	if err != nil {
		return RunRecord{}, err
	}
	rec := RunRecord{
		ID:         sum.ID,
		Pipeline:   sum.Pipeline,
		Status:     sum.Status,
		Completed:  sum.Completed,
		Pending:    sum.Pending,
		Context:    payload,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
	}
	if sum.Err != nil {
		rec.Error = sum.Err.Error()
	}
	return rec, nil
}

// Snapshot decodes the stored context.
func (r RunRecord) Snapshot() (api.Context, error) {
	return DecodeContext(r.Context)
}

// RunFilter is used to select runs from the store.
// Empty string / zero status mean "no filter" for that field.
type RunFilter struct {
	Pipeline string
	Status   api.Status
}

func (f RunFilter) matches(r RunRecord) bool {
	if f.Pipeline != "" && r.Pipeline != f.Pipeline {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// RunStore handles storage of run records. SaveRun inserts or replaces the
// record with the same ID. ListRuns returns records ordered by start time.
type RunStore interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
}
