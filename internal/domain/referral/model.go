package referral

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/referral/internal/workflow"
)

// PatientRecord maps to the patients table.
type PatientRecord struct {
	workflow.Patient
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderRecord maps to the orders table.
type OrderRecord struct {
	workflow.Order
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PatientAttributes are the fields that drive document requirements. Nil
// fields are left unchanged on update.
type PatientAttributes struct {
	TelehealthEnabled   *bool    `json:"telehealth_enabled,omitempty"`
	FinancialAssistance *bool    `json:"financial_assistance,omitempty"`
	PrimaryInsurance    *string  `json:"primary_insurance,omitempty"`
	RequiredDocuments   []string `json:"required_documents,omitempty"`
}

// ReadinessReport is the readiness view of one order.
type ReadinessReport struct {
	OrderID      uuid.UUID               `json:"order_id"`
	Stage        string                  `json:"stage"`
	Overall      workflow.Readiness      `json:"overall"`
	CurrentStage workflow.StageReadiness `json:"current_stage"`
	PAR          workflow.StageReadiness `json:"par"`
	PARReady     bool                    `json:"par_ready"`
	Dwell        workflow.DwellStatus    `json:"dwell"`
}

// BulkItemResult is one row of a bulk transition response.
type BulkItemResult struct {
	OrderID uuid.UUID                  `json:"order_id"`
	Result  *workflow.TransitionResult `json:"result,omitempty"`
	Error   string                     `json:"error,omitempty"`
	Code    string                     `json:"code,omitempty"`
	Err     error                      `json:"-"`
}
