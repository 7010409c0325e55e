package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// ── Clearances ────────────────────────────────────────────────────────────────

const clearanceColumns = `
	id, case_id, section_code, status_code, remarks,
	cleared_at, created_at, updated_at`

// Clearances lists every clearance recorded for a case ordered by section.
func (r *queries) Clearances(ctx context.Context, caseID string) ([]*repository.Clearance, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT`+clearanceColumns+`
		FROM case_clearances
		WHERE case_id = ?
		ORDER BY section_code`, caseID)
	if err != nil {
		return nil, wrapSQLite(err, "failed to list clearances")
	}
	defer rows.Close()

	var out []*repository.Clearance
	for rows.Next() {
		cl, err := scanClearance(rows)
		if err != nil {
			return nil, wrapSQLite(err, "failed to scan clearance")
		}
		out = append(out, cl)
	}
	return out, wrapSQLite(rows.Err(), "failed to list clearances")
}

// Clearance returns one section's clearance, or nil when none is recorded.
func (r *queries) Clearance(ctx context.Context, caseID, sectionCode string) (*repository.Clearance, error) {
	cl, err := scanClearance(r.q.QueryRowContext(ctx, `SELECT`+clearanceColumns+`
		FROM case_clearances
		WHERE case_id = ? AND section_code = ?`, caseID, sectionCode))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLite(err, "failed to get clearance")
	}
	return cl, nil
}

// EnsureClearance inserts a clearance unless the section already has one.
func (r *queries) EnsureClearance(ctx context.Context, caseID, sectionCode, statusCode string) (bool, error) {
	now := nowMillis()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO case_clearances (id, case_id, section_code, status_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, section_code) DO NOTHING`,
		newID(""), caseID, sectionCode, statusCode, now, now,
	)
	if err != nil {
		return false, wrapSQLite(err, "failed to ensure clearance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapSQLite(err, "failed to ensure clearance")
	}
	return n == 1, nil
}

// SetClearanceStatus upserts the status of one section's clearance.
func (r *queries) SetClearanceStatus(ctx context.Context, caseID, sectionCode, statusCode string, clearedAt *time.Time) error {
	now := nowMillis()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO case_clearances (id, case_id, section_code, status_code, cleared_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, section_code) DO UPDATE
		SET status_code = excluded.status_code,
		    cleared_at  = excluded.cleared_at,
		    updated_at  = excluded.updated_at`,
		newID(""), caseID, sectionCode, statusCode, nullMillis(clearedAt), now, now,
	)
	return wrapSQLite(err, "failed to set clearance status")
}

// RecordClearance upserts a clearance decision made by a section.
func (r *queries) RecordClearance(ctx context.Context, cl *repository.Clearance) error {
	now := nowMillis()
	stored, err := scanClearance(r.q.QueryRowContext(ctx, `
		INSERT INTO case_clearances (id, case_id, section_code, status_code, remarks, cleared_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, section_code) DO UPDATE
		SET status_code = excluded.status_code,
		    remarks     = excluded.remarks,
		    cleared_at  = excluded.cleared_at,
		    updated_at  = excluded.updated_at
		RETURNING`+clearanceColumns,
		newID(cl.ID), cl.CaseID, cl.SectionCode, cl.StatusCode, cl.Remarks, nullMillis(cl.ClearedAt), now, now,
	))
	if err != nil {
		return wrapSQLite(err, "failed to record clearance")
	}
	*cl = *stored
	return nil
}

func scanClearance(sc scanner) (*repository.Clearance, error) {
	var (
		cl                   repository.Clearance
		clearedAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := sc.Scan(&cl.ID, &cl.CaseID, &cl.SectionCode, &cl.StatusCode, &cl.Remarks, &clearedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	cl.ClearedAt = fromNullMillis(clearedAt)
	cl.CreatedAt = fromMillis(createdAt)
	cl.UpdatedAt = fromMillis(updatedAt)
	return &cl, nil
}

// ── Reviews ───────────────────────────────────────────────────────────────────

const reviewColumns = `
	id, case_id, section_code, status, reviewer_id, remarks, reviewed_at`

// Review returns the review recorded for a section, or nil.
func (r *queries) Review(ctx context.Context, caseID, sectionCode string) (*repository.Review, error) {
	rv, err := scanReview(r.q.QueryRowContext(ctx, `SELECT`+reviewColumns+`
		FROM case_reviews
		WHERE case_id = ? AND section_code = ?`, caseID, sectionCode))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLite(err, "failed to get review")
	}
	return rv, nil
}

// RecordReview upserts the review for (case, section).
func (r *queries) RecordReview(ctx context.Context, rv *repository.Review) error {
	stored, err := scanReview(r.q.QueryRowContext(ctx, `
		INSERT INTO case_reviews (id, case_id, section_code, status, reviewer_id, remarks, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, section_code) DO UPDATE
		SET status      = excluded.status,
		    reviewer_id = excluded.reviewer_id,
		    remarks     = excluded.remarks,
		    reviewed_at = excluded.reviewed_at
		RETURNING`+reviewColumns,
		newID(rv.ID), rv.CaseID, rv.SectionCode, rv.Status, rv.ReviewerID, rv.Remarks, toMillis(rv.ReviewedAt),
	))
	if err != nil {
		return wrapSQLite(err, "failed to record review")
	}
	*rv = *stored
	return nil
}

func scanReview(sc scanner) (*repository.Review, error) {
	var (
		rv         repository.Review
		reviewedAt int64
	)
	err := sc.Scan(&rv.ID, &rv.CaseID, &rv.SectionCode, &rv.Status, &rv.ReviewerID, &rv.Remarks, &reviewedAt)
	if err != nil {
		return nil, err
	}
	rv.ReviewedAt = fromMillis(reviewedAt)
	return &rv, nil
}

// ── Accounts ──────────────────────────────────────────────────────────────────

const accountsColumns = `
	id, case_id, transfer_fee, stamp_duty, registration_fee,
	processing_fee, other_charges, total_amount,
	payment_verified, challan_no, updated_at`

// AccountsBreakdown returns the fee schedule of a case, or nil.
func (r *queries) AccountsBreakdown(ctx context.Context, caseID string) (*repository.AccountsBreakdown, error) {
	b, err := scanAccounts(r.q.QueryRowContext(ctx, `SELECT`+accountsColumns+`
		FROM case_accounts_breakdowns
		WHERE case_id = ?`, caseID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLite(err, "failed to get accounts breakdown")
	}
	return b, nil
}

// SaveAccountsBreakdown upserts the fee schedule with a recomputed total.
func (r *queries) SaveAccountsBreakdown(ctx context.Context, b *repository.AccountsBreakdown) error {
	b.ComputeTotal()
	stored, err := scanAccounts(r.q.QueryRowContext(ctx, `
		INSERT INTO case_accounts_breakdowns
		    (id, case_id, transfer_fee, stamp_duty, registration_fee,
		     processing_fee, other_charges, total_amount,
		     payment_verified, challan_no, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE
		SET transfer_fee     = excluded.transfer_fee,
		    stamp_duty       = excluded.stamp_duty,
		    registration_fee = excluded.registration_fee,
		    processing_fee   = excluded.processing_fee,
		    other_charges    = excluded.other_charges,
		    total_amount     = excluded.total_amount,
		    payment_verified = excluded.payment_verified,
		    challan_no       = excluded.challan_no,
		    updated_at       = excluded.updated_at
		RETURNING`+accountsColumns,
		newID(b.ID),
		b.CaseID,
		b.TransferFee,
		b.StampDuty,
		b.RegistrationFee,
		b.ProcessingFee,
		b.OtherCharges,
		b.TotalAmount,
		b.PaymentVerified,
		b.ChallanNo,
		nowMillis(),
	))
	if err != nil {
		return wrapSQLite(err, "failed to save accounts breakdown")
	}
	*b = *stored
	return nil
}

func scanAccounts(sc scanner) (*repository.AccountsBreakdown, error) {
	var (
		b         repository.AccountsBreakdown
		updatedAt int64
	)
	err := sc.Scan(
		&b.ID,
		&b.CaseID,
		&b.TransferFee,
		&b.StampDuty,
		&b.RegistrationFee,
		&b.ProcessingFee,
		&b.OtherCharges,
		&b.TotalAmount,
		&b.PaymentVerified,
		&b.ChallanNo,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt = fromMillis(updatedAt)
	return &b, nil
}

// ── Documents ─────────────────────────────────────────────────────────────────

// Documents lists the intake documents attached to a case.
func (r *queries) Documents(ctx context.Context, caseID string) ([]*repository.Document, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, case_id, doc_type, file_ref, uploaded_by, uploaded_at
		FROM case_documents
		WHERE case_id = ?
		ORDER BY doc_type`, caseID)
	if err != nil {
		return nil, wrapSQLite(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var (
			d          repository.Document
			uploadedAt int64
		)
		if err := rows.Scan(&d.ID, &d.CaseID, &d.DocType, &d.FileRef, &d.UploadedBy, &uploadedAt); err != nil {
			return nil, wrapSQLite(err, "failed to scan document")
		}
		d.UploadedAt = fromMillis(uploadedAt)
		docs = append(docs, &d)
	}
	return docs, wrapSQLite(rows.Err(), "failed to list documents")
}

// AttachDocument records a document reference, replacing an earlier one of
// the same type.
func (r *queries) AttachDocument(ctx context.Context, d *repository.Document) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO case_documents (id, case_id, doc_type, file_ref, uploaded_by, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, doc_type) DO UPDATE
		SET file_ref    = excluded.file_ref,
		    uploaded_by = excluded.uploaded_by,
		    uploaded_at = excluded.uploaded_at
		RETURNING id`,
		newID(d.ID), d.CaseID, d.DocType, d.FileRef, d.UploadedBy, toMillis(d.UploadedAt),
	).Scan(&d.ID)
	return wrapSQLite(err, "failed to attach document")
}
