package order

import (
	"context"
	"errors"
)

// ErrUpstream marks failures talking to the clinical warehouse. Callers map
// it to "External server error" instead of not-found.
var ErrUpstream = errors.New("external server error")

// Source is read-only access to warehouse orders.
type Source interface {
	// ListActiveByIDs returns the non-cancelled orders among ids.
	ListActiveByIDs(ctx context.Context, ids []int64) ([]*Order, error)
	// PatientExists reports whether any order row, cancelled or not, exists for the patient.
	PatientExists(ctx context.Context, patientID int64) (bool, error)
	// ListActiveByPatient returns non-cancelled orders newest event first.
	ListActiveByPatient(ctx context.Context, patientID int64) ([]*Order, error)
	// CountActivePatients counts distinct patients across the non-cancelled orders among ids.
	CountActivePatients(ctx context.Context, ids []int64) (int, error)
	Ping(ctx context.Context) error
}
