package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/referral/internal/platform/db"
	"github.com/ehr/referral/internal/workflow"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// connFor prefers the transaction bound to ctx so a transition's writes commit together.
func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Patients --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, first_name, last_name, required_documents,
	telehealth_enabled, financial_assistance, primary_insurance, created_at, updated_at`

func scanPatient(row pgx.Row) (*PatientRecord, error) {
	var p PatientRecord
	var docs []string
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &docs,
		&p.TelehealthEnabled, &p.FinancialAssistance, &p.PrimaryInsurance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.RequiredDocuments = workflow.DocSetFromStrings(docs)
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *PatientRecord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, required_documents,
			telehealth_enabled, financial_assistance, primary_insurance)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.RequiredDocuments.Strings(),
		p.TelehealthEnabled, p.FinancialAssistance, p.PrimaryInsurance,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *PatientRecord) error {
	return affected(connFor(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET required_documents=$2, telehealth_enabled=$3,
			financial_assistance=$4, primary_insurance=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.RequiredDocuments.Strings(), p.TelehealthEnabled, p.FinancialAssistance, p.PrimaryInsurance))
}

// -- Orders --

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, patient_id, workflow_stage, document_status, last_stage_change,
	last_stage_note, chair_type, stoplight_status, created_at, updated_at`

func scanOrder(row pgx.Row) (*OrderRecord, error) {
	var o OrderRecord
	err := row.Scan(&o.ID, &o.PatientID, &o.WorkflowStage, &o.DocumentStatus, &o.LastStageChange,
		&o.LastStageNote, &o.ChairType, &o.StoplightStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if o.DocumentStatus == nil {
		o.DocumentStatus = map[workflow.DocKey]workflow.DocStatus{}
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *OrderRecord) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.DocumentStatus == nil {
		o.DocumentStatus = map[workflow.DocKey]workflow.DocStatus{}
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO orders (id, patient_id, workflow_stage, document_status,
			last_stage_change, last_stage_note, chair_type, stoplight_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.WorkflowStage, o.DocumentStatus,
		o.LastStageChange, o.LastStageNote, o.ChairType, o.StoplightStatus,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*OrderRecord, error) {
	return scanOrder(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepoPG) UpdateStage(ctx context.Context, o *workflow.Order) error {
	return affected(connFor(ctx, r.pool).Exec(ctx, `
		UPDATE orders SET workflow_stage=$2, last_stage_change=$3, last_stage_note=$4, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.WorkflowStage, o.LastStageChange, o.LastStageNote))
}

func (r *orderRepoPG) SetDocumentStatus(ctx context.Context, id uuid.UUID, key workflow.DocKey, status workflow.DocStatus) error {
	return affected(connFor(ctx, r.pool).Exec(ctx, `
		UPDATE orders SET document_status = document_status || jsonb_build_object($2::text, $3::text),
			updated_at=NOW()
		WHERE id = $1`,
		id, string(key), string(status)))
}

func (r *orderRepoPG) ListByStage(ctx context.Context, stage string, limit, offset int) ([]*OrderRecord, int, error) {
	c := connFor(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE workflow_stage = $1`, stage).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+orderCols+` FROM orders WHERE workflow_stage = $1
		ORDER BY last_stage_change ASC NULLS FIRST LIMIT $2 OFFSET $3`, stage, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// -- Notes --

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

const noteCols = `id, patient_id, order_id, body, source, stage_from, stage_to, created_at, created_by`

func (r *noteRepoPG) Create(ctx context.Context, n *workflow.Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO notes (`+noteCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.PatientID, n.OrderID, n.Body, n.Source, n.StageFrom, n.StageTo, n.CreatedAt, n.CreatedBy)
	return err
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*workflow.Note, int, error) {
	c := connFor(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM notes WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+noteCols+` FROM notes WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*workflow.Note
	for rows.Next() {
		var n workflow.Note
		if err := rows.Scan(&n.ID, &n.PatientID, &n.OrderID, &n.Body, &n.Source,
			&n.StageFrom, &n.StageTo, &n.CreatedAt, &n.CreatedBy); err != nil {
			return nil, 0, err
		}
		items = append(items, &n)
	}
	return items, total, rows.Err()
}

// -- Regression records --

type regressionRepoPG struct{ pool *pgxpool.Pool }

func NewRegressionRepoPG(pool *pgxpool.Pool) RegressionRepository {
	return &regressionRepoPG{pool: pool}
}

const regressionCols = `id, order_id, previous_stage, new_stage, reason, notes, user_id, created_at`

func (r *regressionRepoPG) Create(ctx context.Context, rec *workflow.RegressionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO regression_records (`+regressionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.OrderID, rec.PreviousStage, rec.NewStage, rec.Reason, rec.Notes, rec.UserID, rec.CreatedAt)
	return err
}

func (r *regressionRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*workflow.RegressionRecord, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+regressionCols+` FROM regression_records
		WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*workflow.RegressionRecord
	for rows.Next() {
		var rec workflow.RegressionRecord
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.PreviousStage, &rec.NewStage,
			&rec.Reason, &rec.Notes, &rec.UserID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}
