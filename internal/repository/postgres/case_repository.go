package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

const caseColumns = `
	id, file_no, plot_no, current_stage_id, previous_stage_id,
	status, post_entries_complete, version,
	created_by, created_at, updated_at`

// Case returns a case by ID.
func (r *queries) Case(ctx context.Context, caseID string) (*repository.Case, error) {
	return r.getCase(ctx, `SELECT`+caseColumns+` FROM cases WHERE id = $1`, caseID)
}

// LockCase loads the case with a row lock held until the transaction ends.
func (r *queries) LockCase(ctx context.Context, caseID string) (*repository.Case, error) {
	return r.getCase(ctx, `SELECT`+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, caseID)
}

func (r *queries) getCase(ctx context.Context, query, caseID string) (*repository.Case, error) {
	if !validID(caseID) {
		return nil, errors.NotFound("case", caseID)
	}
	c, err := scanCase(r.q.QueryRow(ctx, query, caseID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", caseID)
	}
	if err != nil {
		return nil, wrapPg(err, "failed to get case")
	}
	return c, nil
}

// CreateCase inserts a new case. The ID is generated when empty.
func (r *queries) CreateCase(ctx context.Context, c *repository.Case) error {
	c.ID = newID(c.ID)

	query := `
		INSERT INTO cases
		    (id, file_no, plot_no, current_stage_id, previous_stage_id,
		     status, post_entries_complete, version,
		     created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10, $11)
	`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.FileNo,
		c.PlotNo,
		c.CurrentStageID,
		c.PreviousStageID,
		c.Status,
		c.PostEntriesComplete,
		c.Version,
		c.CreatedBy,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("case", c.FileNo)
	}
	return wrapPg(err, "failed to create case")
}

// MoveCase records a stage change, guarded by the version the caller read.
func (r *queries) MoveCase(ctx context.Context, c *repository.Case, toStageID string) (*repository.Case, error) {
	query := `
		UPDATE cases
		SET previous_stage_id = current_stage_id,
		    current_stage_id  = $2,
		    version           = version + 1,
		    updated_at        = NOW()
		WHERE id = $1 AND version = $3
		RETURNING` + caseColumns

	moved, err := scanCase(r.q.QueryRow(ctx, query, c.ID, toStageID, c.Version))
	if err == pgx.ErrNoRows {
		return nil, errors.Conflict("case " + c.ID + " was modified concurrently")
	}
	if err != nil {
		return nil, wrapPg(err, "failed to move case")
	}
	return moved, nil
}

// UpdateCaseStatus sets the collaborator-owned status fields. Stage fields
// and the version are left alone.
func (r *queries) UpdateCaseStatus(ctx context.Context, caseID, status string, postEntriesComplete bool) (*repository.Case, error) {
	if !validID(caseID) {
		return nil, errors.NotFound("case", caseID)
	}

	query := `
		UPDATE cases
		SET status                = $2,
		    post_entries_complete = $3,
		    updated_at            = NOW()
		WHERE id = $1
		RETURNING` + caseColumns

	c, err := scanCase(r.q.QueryRow(ctx, query, caseID, status, postEntriesComplete))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", caseID)
	}
	if err != nil {
		return nil, wrapPg(err, "failed to update case status")
	}
	return c, nil
}

func scanCase(sc scanner) (*repository.Case, error) {
	c := &repository.Case{}
	err := sc.Scan(
		&c.ID,
		&c.FileNo,
		&c.PlotNo,
		&c.CurrentStageID,
		&c.PreviousStageID,
		&c.Status,
		&c.PostEntriesComplete,
		&c.Version,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
