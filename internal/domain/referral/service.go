package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/referral/internal/workflow"
)

// ApplyError reports a persistence failure after a transition was approved.
// It is distinct from validation errors: the user did nothing wrong.
type ApplyError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply transition for order %s: %v", e.OrderID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// UnknownDocumentsError lists document keys rejected by the document catalog.
type UnknownDocumentsError struct {
	Keys []workflow.DocKey
}

func (e *UnknownDocumentsError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = string(k)
	}
	return "unknown document keys: " + strings.Join(keys, ", ")
}

// Repositories groups the persistence collaborators of the service.
type Repositories struct {
	Patients    PatientRepository
	Orders      OrderRepository
	Notes       NoteRepository
	Regressions RegressionRepository
}

type Service struct {
	engine      *workflow.Engine
	docs        *workflow.DocumentCatalog
	patients    PatientRepository
	orders      OrderRepository
	notes       NoteRepository
	regressions RegressionRepository
	tx          TxRunner
	ledger      Ledger
	logger      zerolog.Logger
}

func NewService(engine *workflow.Engine, repos Repositories, tx TxRunner) *Service {
	return &Service{
		engine:      engine,
		patients:    repos.Patients,
		orders:      repos.Orders,
		notes:       repos.Notes,
		regressions: repos.Regressions,
		tx:          tx,
		ledger:      NopLedger{},
		logger:      zerolog.Nop(),
	}
}

// SetLedger attaches the audit ledger that receives committed notes.
func (s *Service) SetLedger(l Ledger) {
	if l != nil {
		s.ledger = l
	}
}

func (s *Service) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "referral").Logger()
}

// SetDocumentCatalog restricts document keys accepted from callers.
func (s *Service) SetDocumentCatalog(c *workflow.DocumentCatalog) {
	s.docs = c
}

func (s *Service) Engine() *workflow.Engine { return s.engine }

func (s *Service) checkDocKeys(keys ...workflow.DocKey) error {
	if unknown := s.docs.Unknown(keys...); len(unknown) > 0 {
		return &UnknownDocumentsError{Keys: unknown}
	}
	return nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *PatientRecord) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalidInput)
	}
	if err := s.checkDocKeys(p.RequiredDocuments.Sorted()...); err != nil {
		return err
	}
	p.RequiredDocuments = workflow.DeriveRequiredDocuments(p.Patient, workflow.Order{})
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", id, err)
	}
	return p, nil
}

// UpdatePatientAttributes changes the document-driving flags, adds any
// explicitly listed documents and re-derives the required set. Documents
// are never removed here.
func (s *Service) UpdatePatientAttributes(ctx context.Context, id uuid.UUID, attrs PatientAttributes) (*PatientRecord, error) {
	added := workflow.DocSetFromStrings(attrs.RequiredDocuments)
	if err := s.checkDocKeys(added.Sorted()...); err != nil {
		return nil, err
	}

	var out *PatientRecord
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.GetPatient(ctx, id)
		if err != nil {
			return err
		}
		if attrs.TelehealthEnabled != nil {
			p.TelehealthEnabled = *attrs.TelehealthEnabled
		}
		if attrs.FinancialAssistance != nil {
			p.FinancialAssistance = *attrs.FinancialAssistance
		}
		if attrs.PrimaryInsurance != nil {
			ins := strings.TrimSpace(*attrs.PrimaryInsurance)
			if ins == "" {
				p.PrimaryInsurance = nil
			} else {
				p.PrimaryInsurance = &ins
			}
		}
		p.RequiredDocuments = p.RequiredDocuments.Union(added)
		p.RequiredDocuments = workflow.DeriveRequiredDocuments(p.Patient, workflow.Order{})
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Orders --

// CreateOrder starts a referral in the first catalog stage unless a valid
// stage is given, and folds order-driven requirements into the patient.
func (s *Service) CreateOrder(ctx context.Context, o *OrderRecord) error {
	catalog := s.engine.Catalog()
	if o.WorkflowStage == "" {
		o.WorkflowStage = catalog.First().Name
	} else if !catalog.Has(o.WorkflowStage) {
		return &workflow.UnknownStageError{Name: o.WorkflowStage}
	}
	keys := make([]workflow.DocKey, 0, len(o.DocumentStatus))
	for k, st := range o.DocumentStatus {
		if st != workflow.DocComplete && st != workflow.DocMissing {
			return fmt.Errorf("%w: invalid status %q for document %s", ErrInvalidInput, st, k)
		}
		keys = append(keys, k)
	}
	if err := s.checkDocKeys(keys...); err != nil {
		return err
	}
	now := s.engine.Now()
	o.LastStageChange = &now

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.GetPatient(ctx, o.PatientID)
		if err != nil {
			return err
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}
		_, err = s.refresh(ctx, p, &o.Order)
		return err
	})
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderRecord, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	return o, nil
}

// SetDocumentStatus marks one document Complete or Missing on an order.
func (s *Service) SetDocumentStatus(ctx context.Context, orderID uuid.UUID, key workflow.DocKey, status workflow.DocStatus) error {
	if strings.TrimSpace(string(key)) == "" {
		return fmt.Errorf("%w: document key is required", ErrInvalidInput)
	}
	if err := s.checkDocKeys(key); err != nil {
		return err
	}
	if err := s.orders.SetDocumentStatus(ctx, orderID, key, status); err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}
	return nil
}

// OrderSummary pairs an order with its dwell in the current stage.
type OrderSummary struct {
	*OrderRecord
	Dwell workflow.DwellStatus `json:"dwell"`
}

func (s *Service) ListOrdersByStage(ctx context.Context, stage string, limit, offset int) ([]OrderSummary, int, error) {
	st, err := s.engine.Catalog().ByName(stage)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.orders.ListByStage(ctx, stage, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.engine.Now()
	out := make([]OrderSummary, len(items))
	for i, o := range items {
		out[i] = OrderSummary{OrderRecord: o, Dwell: workflow.Dwell(o.Order, st, now)}
	}
	return out, total, nil
}

// -- Requirements and readiness --

// refresh persists the derived superset of required documents when it
// differs from what is stored.
func (s *Service) refresh(ctx context.Context, p *PatientRecord, o *workflow.Order) (bool, error) {
	derived := workflow.DeriveRequiredDocuments(p.Patient, *o)
	if derived.Equal(p.RequiredDocuments) {
		return false, nil
	}
	p.RequiredDocuments = derived
	if err := s.patients.Update(ctx, p); err != nil {
		return false, fmt.Errorf("persist required documents for patient %s: %w", p.ID, err)
	}
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Strs("rules", workflow.FiredRules(p.Patient, *o)).
		Strs("required_documents", derived.Strings()).
		Msg("required documents updated")
	return true, nil
}

// RefreshRequiredDocuments re-derives a patient's documents for one order.
func (s *Service) RefreshRequiredDocuments(ctx context.Context, patientID, orderID uuid.UUID) (workflow.DocSet, error) {
	var out workflow.DocSet
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, o, err := s.load(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PatientID != patientID {
			return fmt.Errorf("order %s does not belong to patient %s: %w", orderID, patientID, ErrNotFound)
		}
		if _, err := s.refresh(ctx, p, &o.Order); err != nil {
			return err
		}
		out = p.RequiredDocuments
		return nil
	})
	return out, err
}

func (s *Service) load(ctx context.Context, orderID uuid.UUID) (*PatientRecord, *OrderRecord, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.GetPatient(ctx, o.PatientID)
	if err != nil {
		return nil, nil, err
	}
	return p, o, nil
}

// effective returns a copy of the patient carrying the derived document set.
func effective(p *PatientRecord, o *OrderRecord) workflow.Patient {
	ep := p.Patient
	ep.RequiredDocuments = workflow.DeriveRequiredDocuments(p.Patient, o.Order)
	return ep
}

// Readiness reports overall, current-stage and PAR-stage readiness plus dwell.
func (s *Service) Readiness(ctx context.Context, orderID uuid.UUID) (*ReadinessReport, error) {
	p, o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	catalog := s.engine.Catalog()
	current, err := catalog.ByName(o.WorkflowStage)
	if err != nil {
		return nil, err
	}
	required := effective(p, o).RequiredDocuments

	report := &ReadinessReport{
		OrderID:      o.ID,
		Stage:        o.WorkflowStage,
		Overall:      workflow.EvaluateReadiness(required, o.DocumentStatus),
		CurrentStage: workflow.EvaluateStageReadiness(required, current, o.DocumentStatus),
		Dwell:        workflow.Dwell(o.Order, current, s.engine.Now()),
	}
	report.PARReady = report.Overall.Ready
	if par, err := catalog.ByName(s.engine.PARStage()); err == nil {
		report.PAR = workflow.EvaluateStageReadiness(required, par, o.DocumentStatus)
	}
	return report, nil
}

// -- Transitions --

// CheckTransition validates a proposed move without persisting anything.
func (s *Service) CheckTransition(ctx context.Context, orderID uuid.UUID, toStage, note, reason string) error {
	p, o, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	return s.engine.ValidateTransition(o.Order, effective(p, o), toStage, note, reason)
}

// Transition moves one order. The stage update, its note and any regression
// record are written in a single transaction, then forwarded to the ledger.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, toStage, note, reason, actor string) (*workflow.TransitionResult, error) {
	p, o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.refresh(ctx, p, &o.Order); err != nil {
		return nil, &ApplyError{OrderID: orderID, Err: err}
	}

	res, err := s.engine.ApplyTransition(o.Order, p.Patient, toStage, note, reason, actor)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, res); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("transition persist failed")
		return nil, &ApplyError{OrderID: orderID, Err: err}
	}
	s.publish(ctx, res)

	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("from", *res.Note.StageFrom).
		Str("to", res.Order.WorkflowStage).
		Bool("regression", res.IsRegression()).
		Msg("stage changed")
	return res, nil
}

func (s *Service) persist(ctx context.Context, res *workflow.TransitionResult) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStage(ctx, &res.Order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if err := s.notes.Create(ctx, &res.Note); err != nil {
			return fmt.Errorf("create note: %w", err)
		}
		if res.Regression != nil {
			if err := s.regressions.Create(ctx, res.Regression); err != nil {
				return fmt.Errorf("create regression record: %w", err)
			}
		}
		return nil
	})
}

func (s *Service) publish(ctx context.Context, res *workflow.TransitionResult) {
	s.ledger.RecordNote(ctx, &res.Note)
	if res.Regression != nil {
		s.ledger.RecordRegression(ctx, res.Regression)
	}
}

// BulkTransition moves every listed order to toStage with one shared note.
// Each order is loaded, validated and persisted on its own; results are
// returned in request order and partial failure is normal.
func (s *Service) BulkTransition(ctx context.Context, orderIDs []uuid.UUID, toStage, note, actor string) []BulkItemResult {
	results := make([]BulkItemResult, len(orderIDs))
	items := make([]workflow.BulkItem, 0, len(orderIDs))
	positions := make([]int, 0, len(orderIDs))

	for i, id := range orderIDs {
		results[i].OrderID = id
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			results[i].Err = err
			continue
		}
		item := workflow.BulkItem{Order: o.Order}
		p, err := s.GetPatient(ctx, o.PatientID)
		switch {
		case err == nil:
			if _, err := s.refresh(ctx, p, &o.Order); err != nil {
				results[i].Err = &ApplyError{OrderID: id, Err: err}
				continue
			}
			item.Patient = &p.Patient
		case errors.Is(err, ErrNotFound):
			// the engine reports a missing patient as ErrPatientNotFound
		default:
			results[i].Err = err
			continue
		}
		items = append(items, item)
		positions = append(positions, i)
	}

	for j, outcome := range s.engine.ApplyBulkTransition(items, toStage, note, actor) {
		i := positions[j]
		if outcome.Err != nil {
			results[i].Err = outcome.Err
			continue
		}
		if err := s.persist(ctx, outcome.Result); err != nil {
			results[i].Err = &ApplyError{OrderID: outcome.OrderID, Err: err}
			continue
		}
		s.publish(ctx, outcome.Result)
		results[i].Result = outcome.Result
	}

	failed := 0
	for i := range results {
		if err := results[i].Err; err != nil {
			failed++
			results[i].Error = err.Error()
			results[i].Code = errorCode(err)
		}
	}
	s.logger.Info().
		Str("to", toStage).
		Int("succeeded", len(results)-failed).
		Int("failed", failed).
		Msg("bulk stage change")
	return results
}

// errorCode extends the engine codes with service-level conditions.
func errorCode(err error) string {
	var applyErr *ApplyError
	var docErr *UnknownDocumentsError
	switch {
	case errors.As(err, &applyErr):
		return "apply_failed"
	case errors.As(err, &docErr):
		return "unknown_document"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "bad_request"
	}
	return workflow.ErrorCode(err)
}

// -- Notes and regressions --

// AddNote appends a manual note to a patient's ledger.
func (s *Service) AddNote(ctx context.Context, patientID uuid.UUID, orderID *uuid.UUID, body, actor string) (*workflow.Note, error) {
	if strings.TrimSpace(body) == "" {
		return nil, workflow.ErrEmptyNote
	}
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	n := &workflow.Note{
		ID:        uuid.New(),
		PatientID: patientID,
		OrderID:   orderID,
		Body:      body,
		Source:    workflow.NoteSourceManual,
		CreatedAt: s.engine.Now(),
		CreatedBy: actor,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, err
	}
	s.ledger.RecordNote(ctx, n)
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*workflow.Note, int, error) {
	return s.notes.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListRegressions(ctx context.Context, orderID uuid.UUID) ([]*workflow.RegressionRecord, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.regressions.ListByOrder(ctx, orderID)
}
