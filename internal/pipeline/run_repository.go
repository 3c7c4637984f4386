package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"
)

// RunStore persists runs. Claim is the idempotency check: at most one run
// exists per payment id.
type RunStore interface {
	Claim(ctx context.Context, run *Run) (existing *Run, claimed bool, err error)
	Save(ctx context.Context, run *Run) error
	Acquire(ctx context.Context, run *Run, next State) error
	Get(ctx context.Context, correlationID string) (*Run, error)
}

const runColumns = `correlation_id, payment_id, user_id, state, channel, provider, recipient, attributes,
	plan, document, receipt, error_kind, error_detail, created_at, updated_at`

// RunRepository stores runs in the pipeline_runs table.
type RunRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunRepository creates a RunRepository on an open database.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db, now: time.Now}
}

// Claim inserts run unless a run for the same payment id exists, in which
// case that run is returned and claimed is false. Runs without a payment id
// are always inserted.
func (r *RunRepository) Claim(ctx context.Context, run *Run) (*Run, bool, error) {
	now := r.now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	row, err := encodeRun(run)
	if err != nil {
		return nil, false, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO NOTHING`,
		row.args()...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert pipeline run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 1 {
		return nil, true, nil
	}

	existing, err := r.GetByPayment(ctx, run.PaymentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Save writes every mutable field of run.
func (r *RunRepository) Save(ctx context.Context, run *Run) error {
	run.UpdatedAt = r.now().UTC()

	row, err := encodeRun(run)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET user_id = ?, state = ?, channel = ?, provider = ?, recipient = ?, attributes = ?, plan = ?, document = ?,
			receipt = ?, error_kind = ?, error_detail = ?, updated_at = ?
		WHERE correlation_id = ?`,
		row.userID, row.state, row.channel, row.provider, row.recipient, row.attributes, row.plan, row.document, row.receipt,
		row.errorKind, row.errorDetail, row.updatedAt, row.correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pipeline run %s: %w", run.CorrelationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", run.CorrelationID, ErrRunNotFound)
	}
	return nil
}

// Acquire moves run to next only if the stored row is still exactly the
// version run was loaded from. It returns ErrRunInProgress when another
// invocation got there first.
func (r *RunRepository) Acquire(ctx context.Context, run *Run, next State) error {
	now := r.now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET state = ?, error_kind = '', error_detail = '', updated_at = ?
		WHERE correlation_id = ? AND state = ? AND updated_at = ?`,
		string(next), formatTime(now), run.CorrelationID, string(run.State), formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to acquire pipeline run %s: %w", run.CorrelationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", run.CorrelationID, ErrRunInProgress)
	}

	run.State = next
	run.ErrorKind, run.ErrorDetail = "", ""
	run.UpdatedAt = now
	return nil
}

// Get loads a run by correlation id.
func (r *RunRepository) Get(ctx context.Context, correlationID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE correlation_id = ?`, correlationID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", correlationID, ErrRunNotFound)
	}
	return run, err
}

// GetByPayment loads the run claimed for a payment id.
func (r *RunRepository) GetByPayment(ctx context.Context, paymentID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE payment_id = ?`, paymentID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrRunNotFound)
	}
	return run, err
}

// ListByState returns the most recently updated runs in state.
func (r *RunRepository) ListByState(ctx context.Context, state State, limit int) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM pipeline_runs
		WHERE state = ?
		ORDER BY updated_at DESC
		LIMIT ?`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s runs: %w", state, err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type runRow struct {
	correlationID string
	paymentID     sql.NullString
	userID        string
	state         string
	channel       string
	provider      string
	recipient     string
	attributes    string
	plan          sql.NullString
	document      sql.NullString
	receipt       sql.NullString
	errorKind     string
	errorDetail   string
	createdAt     string
	updatedAt     string
}

func (row *runRow) args() []interface{} {
	return []interface{}{
		row.correlationID, row.paymentID, row.userID, row.state, row.channel, row.provider, row.recipient, row.attributes,
		row.plan, row.document, row.receipt, row.errorKind, row.errorDetail, row.createdAt, row.updatedAt,
	}
}

func encodeRun(run *Run) (*runRow, error) {
	attrs, err := json.Marshal(run.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}

	row := &runRow{
		correlationID: run.CorrelationID,
		paymentID:     sql.NullString{String: run.PaymentID, Valid: run.PaymentID != ""},
		userID:        run.UserID,
		state:         string(run.State),
		channel:       string(run.Channel),
		provider:      run.Provider,
		recipient:     run.Recipient,
		attributes:    string(attrs),
		errorKind:     run.ErrorKind,
		errorDetail:   run.ErrorDetail,
		createdAt:     formatTime(run.CreatedAt),
		updatedAt:     formatTime(run.UpdatedAt),
	}

	if run.Plan != nil {
		if row.plan, err = nullJSON(run.Plan); err != nil {
			return nil, fmt.Errorf("failed to encode plan: %w", err)
		}
	}
	if !run.Document.IsZero() {
		if row.document, err = nullJSON(run.Document); err != nil {
			return nil, fmt.Errorf("failed to encode document handle: %w", err)
		}
	}
	if run.Receipt != nil {
		if row.receipt, err = nullJSON(run.Receipt); err != nil {
			return nil, fmt.Errorf("failed to encode receipt: %w", err)
		}
	}
	return row, nil
}

func scanRun(s interface{ Scan(dest ...interface{}) error }) (*Run, error) {
	var row runRow
	err := s.Scan(&row.correlationID, &row.paymentID, &row.userID, &row.state, &row.channel, &row.provider, &row.recipient,
		&row.attributes, &row.plan, &row.document, &row.receipt, &row.errorKind, &row.errorDetail,
		&row.createdAt, &row.updatedAt)
	if err != nil {
		return nil, err
	}

	run := &Run{
		CorrelationID: row.correlationID,
		PaymentID:     row.paymentID.String,
		UserID:        row.userID,
		State:         State(row.state),
		Channel:       delivery.Kind(row.channel),
		Provider:      row.provider,
		Recipient:     row.recipient,
		ErrorKind:     row.errorKind,
		ErrorDetail:   row.errorDetail,
	}

	var attrs nutrition.UserAttributes
	if err := json.Unmarshal([]byte(row.attributes), &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes of run %s: %w", row.correlationID, err)
	}
	run.Attributes = attrs

	if row.plan.Valid {
		run.Plan = &nutrition.Plan{}
		if err := json.Unmarshal([]byte(row.plan.String), run.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan of run %s: %w", row.correlationID, err)
		}
	}
	if row.document.Valid {
		var doc document.Handle
		if err := json.Unmarshal([]byte(row.document.String), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document of run %s: %w", row.correlationID, err)
		}
		run.Document = doc
	}
	if row.receipt.Valid {
		run.Receipt = &delivery.Receipt{}
		if err := json.Unmarshal([]byte(row.receipt.String), run.Receipt); err != nil {
			return nil, fmt.Errorf("failed to decode receipt of run %s: %w", row.correlationID, err)
		}
	}

	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, row.createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at of run %s: %w", row.correlationID, err)
	}
	if run.UpdatedAt, err = time.Parse(time.RFC3339Nano, row.updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at of run %s: %w", row.correlationID, err)
	}
	return run, nil
}

func nullJSON(v interface{}) (sql.NullString, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
