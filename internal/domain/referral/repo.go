package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/referral/internal/workflow"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput marks malformed caller input rejected before any write.
var ErrInvalidInput = errors.New("invalid input")

type PatientRepository interface {
	Create(ctx context.Context, p *PatientRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error)
	// Update writes the document-driving attributes and required documents.
	Update(ctx context.Context, p *PatientRecord) error
}

type OrderRepository interface {
	Create(ctx context.Context, o *OrderRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*OrderRecord, error)
	// UpdateStage writes workflow_stage, last_stage_change and last_stage_note.
	UpdateStage(ctx context.Context, o *workflow.Order) error
	SetDocumentStatus(ctx context.Context, id uuid.UUID, key workflow.DocKey, status workflow.DocStatus) error
	ListByStage(ctx context.Context, stage string, limit, offset int) ([]*OrderRecord, int, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *workflow.Note) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*workflow.Note, int, error)
}

type RegressionRepository interface {
	Create(ctx context.Context, r *workflow.RegressionRecord) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*workflow.RegressionRecord, error)
}

// TxRunner executes fn as one atomic unit of persistence.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger receives every note and regression record after it is committed.
type Ledger interface {
	RecordNote(ctx context.Context, n *workflow.Note)
	RecordRegression(ctx context.Context, r *workflow.RegressionRecord)
}
