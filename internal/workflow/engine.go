package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BulkRegressionReason is recorded for backward moves made through the bulk
// path, which does not collect a per-item reason.
const BulkRegressionReason = "Bulk update"

// Engine evaluates and applies stage transitions against one catalog. It
// holds no mutable state and is safe for concurrent use.
type Engine struct {
	catalog  *Catalog
	parStage string
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPARStage overrides the name of the readiness-gated stage.
func WithPARStage(name string) Option {
	return func(e *Engine) {
		if name = strings.TrimSpace(name); name != "" {
			e.parStage = name
		}
	}
}

// WithClock sets the time source used for stamping transitions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(catalog *Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		parStage: DefaultPARStage,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// PARStage is the stage that requires full document readiness on entry.
func (e *Engine) PARStage() string { return e.parStage }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// IsBackward reports whether moving from -> to goes to an earlier stage.
func (e *Engine) IsBackward(from, to string) (bool, error) {
	return IsBackward(e.catalog, from, to)
}

// ValidateTransition checks a proposed move of order to toStage. It returns
// nil when the move is approved. Rules run in a fixed order: note present,
// regression reason for backward moves, readiness for the PAR stage, and
// finally rejection of a move to the current stage.
func (e *Engine) ValidateTransition(order Order, patient Patient, toStage, note, regressionReason string) error {
	return e.validate(order, patient, toStage, note, regressionReason, true)
}

func (e *Engine) validate(order Order, patient Patient, toStage, note, regressionReason string, requireReason bool) error {
	if strings.TrimSpace(note) == "" {
		return ErrEmptyNote
	}
	backward, err := e.IsBackward(order.WorkflowStage, toStage)
	if err != nil {
		return err
	}
	if backward && requireReason && strings.TrimSpace(regressionReason) == "" {
		return ErrMissingRegressionReason
	}
	if toStage == e.parStage && !IsReady(patient.RequiredDocuments, order.DocumentStatus) {
		return &ParNotReadyError{
			Stage:   toStage,
			Missing: MissingDocs(patient.RequiredDocuments, order.DocumentStatus),
		}
	}
	if toStage == order.WorkflowStage {
		return ErrNoOpTransition
	}
	return nil
}

// ApplyTransition re-validates and, on approval, returns the updated order,
// the stage-change note and, for backward moves, a regression record.
func (e *Engine) ApplyTransition(order Order, patient Patient, toStage, note, regressionReason, actor string) (*TransitionResult, error) {
	if err := e.ValidateTransition(order, patient, toStage, note, regressionReason); err != nil {
		return nil, err
	}
	return e.apply(order, toStage, note, strings.TrimSpace(regressionReason), actor)
}

func (e *Engine) apply(order Order, toStage, note, reason, actor string) (*TransitionResult, error) {
	backward, err := e.IsBackward(order.WorkflowStage, toStage)
	if err != nil {
		return nil, err
	}

	now := e.now()
	from := order.WorkflowStage
	updated := order.Clone()
	updated.WorkflowStage = toStage
	updated.LastStageNote = strPtr(note)
	updated.LastStageChange = &now

	orderID := order.ID
	res := &TransitionResult{
		Order: updated,
		Note: Note{
			ID:        uuid.New(),
			PatientID: order.PatientID,
			OrderID:   &orderID,
			Body:      note,
			Source:    NoteSourceStageChange,
			StageFrom: strPtr(from),
			StageTo:   strPtr(toStage),
			CreatedAt: now,
			CreatedBy: actor,
		},
	}
	if backward {
		res.Regression = &RegressionRecord{
			ID:            uuid.New(),
			OrderID:       order.ID,
			PreviousStage: from,
			NewStage:      toStage,
			Reason:        reason,
			Notes:         note,
			UserID:        actor,
			CreatedAt:     now,
		}
	}
	return res, nil
}

// BulkItem pairs an order with its patient. A nil Patient means the lookup
// failed and the item is reported as ErrPatientNotFound.
type BulkItem struct {
	Order   Order
	Patient *Patient
}

// BulkOutcome is the per-order result of a bulk transition. Exactly one of
// Result and Err is set.
type BulkOutcome struct {
	OrderID uuid.UUID
	Result  *TransitionResult
	Err     error
}

// ApplyBulkTransition moves every item to toStage with the same note. Items
// are independent: one failure never affects another. Backward moves do
// not need a reason here and are recorded with BulkRegressionReason.
func (e *Engine) ApplyBulkTransition(items []BulkItem, toStage, note, actor string) []BulkOutcome {
	out := make([]BulkOutcome, len(items))
	for i, item := range items {
		out[i] = BulkOutcome{OrderID: item.Order.ID}
		if item.Patient == nil {
			out[i].Err = fmt.Errorf("order %s: %w", item.Order.ID, ErrPatientNotFound)
			continue
		}
		if err := e.validate(item.Order, *item.Patient, toStage, note, "", false); err != nil {
			out[i].Err = err
			continue
		}
		res, err := e.apply(item.Order, toStage, note, BulkRegressionReason, actor)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Result = res
	}
	return out
}

// Succeeded counts outcomes without an error.
func Succeeded(outcomes []BulkOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}
