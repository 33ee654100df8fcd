package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Note sources.
const (
	NoteSourceManual      = "manual"
	NoteSourceStageChange = "stage_change"
)

// Patient is the subset of the patient record the engine reads.
type Patient struct {
	ID                  uuid.UUID `json:"id"`
	RequiredDocuments   DocSet    `json:"required_documents"`
	TelehealthEnabled   bool      `json:"telehealth_enabled"`
	FinancialAssistance bool      `json:"financial_assistance"`
	PrimaryInsurance    *string   `json:"primary_insurance,omitempty"`
}

// Order is a referral moving through the workflow. Only the current stage is
// held here; stage history lives in the note ledger.
type Order struct {
	ID              uuid.UUID            `json:"id"`
	PatientID       uuid.UUID            `json:"patient_id"`
	WorkflowStage   string               `json:"workflow_stage"`
	DocumentStatus  map[DocKey]DocStatus `json:"document_status"`
	LastStageChange *time.Time           `json:"last_stage_change,omitempty"`
	LastStageNote   *string              `json:"last_stage_note,omitempty"`
	ChairType       *string              `json:"chair_type,omitempty"`
	StoplightStatus *string              `json:"stoplight_status,omitempty"`
}

// StatusOf returns the recorded status of key; unrecorded keys are Missing.
func (o *Order) StatusOf(key DocKey) DocStatus {
	if st, ok := o.DocumentStatus[key]; ok {
		return st
	}
	return DocMissing
}

// Clone returns a deep copy of o.
func (o Order) Clone() Order {
	out := o
	if o.DocumentStatus != nil {
		out.DocumentStatus = make(map[DocKey]DocStatus, len(o.DocumentStatus))
		for k, v := range o.DocumentStatus {
			out.DocumentStatus[k] = v
		}
	}
	if o.LastStageChange != nil {
		t := *o.LastStageChange
		out.LastStageChange = &t
	}
	out.LastStageNote = cloneStr(o.LastStageNote)
	out.ChairType = cloneStr(o.ChairType)
	out.StoplightStatus = cloneStr(o.StoplightStatus)
	return out
}

// Note is an append-only ledger entry.
type Note struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Body      string     `json:"body"`
	Source    string     `json:"source"`
	StageFrom *string    `json:"stage_from,omitempty"`
	StageTo   *string    `json:"stage_to,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
}

// RegressionRecord is written once for every backward stage move.
type RegressionRecord struct {
	ID            uuid.UUID `json:"id"`
	OrderID       uuid.UUID `json:"order_id"`
	PreviousStage string    `json:"previous_stage"`
	NewStage      string    `json:"new_stage"`
	Reason        string    `json:"reason"`
	Notes         string    `json:"notes"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// TransitionResult describes every mutation a transition requires. Callers
// persist Order, Note and Regression atomically.
type TransitionResult struct {
	Order      Order             `json:"order"`
	Note       Note              `json:"note"`
	Regression *RegressionRecord `json:"regression,omitempty"`
}

// IsRegression reports whether the transition moved backward.
func (r *TransitionResult) IsRegression() bool { return r.Regression != nil }

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func strPtr(s string) *string { return &s }
