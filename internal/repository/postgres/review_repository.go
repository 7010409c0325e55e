package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

const reviewColumns = `
	id, case_id, section_code, status, reviewer_id, remarks, reviewed_at`

// Review returns the review recorded for a section, or nil.
func (r *queries) Review(ctx context.Context, caseID, sectionCode string) (*repository.Review, error) {
	if !validID(caseID) {
		return nil, nil
	}

	rv, err := scanReview(r.q.QueryRow(ctx, `SELECT`+reviewColumns+`
		FROM case_reviews
		WHERE case_id = $1 AND section_code = $2`, caseID, sectionCode))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPg(err, "failed to get review")
	}
	return rv, nil
}

// RecordReview upserts the review for (case, section); a later sign-off
// replaces an earlier one.
func (r *queries) RecordReview(ctx context.Context, rv *repository.Review) error {
	query := `
		INSERT INTO case_reviews (id, case_id, section_code, status, reviewer_id, remarks, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (case_id, section_code) DO UPDATE
		SET status      = EXCLUDED.status,
		    reviewer_id = EXCLUDED.reviewer_id,
		    remarks     = EXCLUDED.remarks,
		    reviewed_at = EXCLUDED.reviewed_at
		RETURNING` + reviewColumns

	stored, err := scanReview(r.q.QueryRow(ctx, query,
		newID(rv.ID),
		rv.CaseID,
		rv.SectionCode,
		rv.Status,
		rv.ReviewerID,
		rv.Remarks,
		rv.ReviewedAt,
	))
	if err != nil {
		return wrapPg(err, "failed to record review")
	}
	*rv = *stored
	return nil
}

func scanReview(sc scanner) (*repository.Review, error) {
	rv := &repository.Review{}
	err := sc.Scan(
		&rv.ID,
		&rv.CaseID,
		&rv.SectionCode,
		&rv.Status,
		&rv.ReviewerID,
		&rv.Remarks,
		&rv.ReviewedAt,
	)
	if err != nil {
		return nil, err
	}
	return rv, nil
}
