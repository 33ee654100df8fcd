package referral

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/referral/internal/workflow"
)

// LogLedger forwards ledger entries to a structured audit log.
type LogLedger struct {
	logger zerolog.Logger
}

func NewLogLedger(logger zerolog.Logger) *LogLedger {
	return &LogLedger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *LogLedger) RecordNote(_ context.Context, n *workflow.Note) {
	evt := l.logger.Info().
		Str("event", "note").
		Str("note_id", n.ID.String()).
		Str("patient_id", n.PatientID.String()).
		Str("source", n.Source).
		Str("created_by", n.CreatedBy).
		Time("created_at", n.CreatedAt)
	if n.OrderID != nil {
		evt = evt.Str("order_id", n.OrderID.String())
	}
	if n.StageFrom != nil && n.StageTo != nil {
		evt = evt.Str("stage_from", *n.StageFrom).Str("stage_to", *n.StageTo)
	}
	evt.Msg("audit")
}

func (l *LogLedger) RecordRegression(_ context.Context, r *workflow.RegressionRecord) {
	l.logger.Warn().
		Str("event", "regression").
		Str("regression_id", r.ID.String()).
		Str("order_id", r.OrderID.String()).
		Str("previous_stage", r.PreviousStage).
		Str("new_stage", r.NewStage).
		Str("reason", r.Reason).
		Str("user_id", r.UserID).
		Time("created_at", r.CreatedAt).
		Msg("audit")
}

// NopLedger discards entries.
type NopLedger struct{}

func (NopLedger) RecordNote(context.Context, *workflow.Note) {}

func (NopLedger) RecordRegression(context.Context, *workflow.RegressionRecord) {}
