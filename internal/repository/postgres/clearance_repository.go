package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

const clearanceColumns = `
	id, case_id, section_code, status_code, remarks,
	cleared_at, created_at, updated_at`

// Clearances lists every clearance recorded for a case ordered by section.
func (r *queries) Clearances(ctx context.Context, caseID string) ([]*repository.Clearance, error) {
	if !validID(caseID) {
		return nil, nil
	}

	rows, err := r.q.Query(ctx, `SELECT`+clearanceColumns+`
		FROM case_clearances
		WHERE case_id = $1
		ORDER BY section_code`, caseID)
	if err != nil {
		return nil, wrapPg(err, "failed to list clearances")
	}
	defer rows.Close()

	var out []*repository.Clearance
	for rows.Next() {
		cl, err := scanClearance(rows)
		if err != nil {
			return nil, wrapPg(err, "failed to scan clearance")
		}
		out = append(out, cl)
	}
	return out, wrapPg(rows.Err(), "failed to list clearances")
}

// Clearance returns one section's clearance, or nil when none is recorded.
func (r *queries) Clearance(ctx context.Context, caseID, sectionCode string) (*repository.Clearance, error) {
	if !validID(caseID) {
		return nil, nil
	}

	cl, err := scanClearance(r.q.QueryRow(ctx, `SELECT`+clearanceColumns+`
		FROM case_clearances
		WHERE case_id = $1 AND section_code = $2`, caseID, sectionCode))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPg(err, "failed to get clearance")
	}
	return cl, nil
}

// EnsureClearance inserts a clearance unless the section already has one.
func (r *queries) EnsureClearance(ctx context.Context, caseID, sectionCode, statusCode string) (bool, error) {
	query := `
		INSERT INTO case_clearances (id, case_id, section_code, status_code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (case_id, section_code) DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query, newID(""), caseID, sectionCode, statusCode)
	if err != nil {
		return false, wrapPg(err, "failed to ensure clearance")
	}
	return tag.RowsAffected() == 1, nil
}

// SetClearanceStatus upserts the status of one section's clearance.
func (r *queries) SetClearanceStatus(ctx context.Context, caseID, sectionCode, statusCode string, clearedAt *time.Time) error {
	query := `
		INSERT INTO case_clearances (id, case_id, section_code, status_code, cleared_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (case_id, section_code) DO UPDATE
		SET status_code = EXCLUDED.status_code,
		    cleared_at  = EXCLUDED.cleared_at,
		    updated_at  = NOW()
	`

	_, err := r.q.Exec(ctx, query, newID(""), caseID, sectionCode, statusCode, clearedAt)
	return wrapPg(err, "failed to set clearance status")
}

// RecordClearance upserts a clearance decision made by a section, remarks
// included. The stored row is written back into cl.
func (r *queries) RecordClearance(ctx context.Context, cl *repository.Clearance) error {
	query := `
		INSERT INTO case_clearances (id, case_id, section_code, status_code, remarks, cleared_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id, section_code) DO UPDATE
		SET status_code = EXCLUDED.status_code,
		    remarks     = EXCLUDED.remarks,
		    cleared_at  = EXCLUDED.cleared_at,
		    updated_at  = NOW()
		RETURNING` + clearanceColumns

	stored, err := scanClearance(r.q.QueryRow(ctx, query,
		newID(cl.ID),
		cl.CaseID,
		cl.SectionCode,
		cl.StatusCode,
		cl.Remarks,
		cl.ClearedAt,
	))
	if err != nil {
		return wrapPg(err, "failed to record clearance")
	}
	*cl = *stored
	return nil
}

func scanClearance(sc scanner) (*repository.Clearance, error) {
	cl := &repository.Clearance{}
	err := sc.Scan(
		&cl.ID,
		&cl.CaseID,
		&cl.SectionCode,
		&cl.StatusCode,
		&cl.Remarks,
		&cl.ClearedAt,
		&cl.CreatedAt,
		&cl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cl, nil
}
