package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

const caseColumns = `
	id, file_no, plot_no, current_stage_id, previous_stage_id,
	status, post_entries_complete, version,
	created_by, created_at, updated_at`

// Case returns a case by ID.
func (r *queries) Case(ctx context.Context, caseID string) (*repository.Case, error) {
	c, err := scanCase(r.q.QueryRowContext(ctx, `SELECT`+caseColumns+` FROM cases WHERE id = ?`, caseID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("case", caseID)
	}
	if err != nil {
		return nil, wrapSQLite(err, "failed to get case")
	}
	return c, nil
}

// LockCase takes the database write lock through a no-op update of the case
// row, then reads it.
func (r *queries) LockCase(ctx context.Context, caseID string) (*repository.Case, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE cases SET version = version WHERE id = ?`, caseID)
	if err != nil {
		return nil, wrapSQLite(err, "failed to lock case")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.NotFound("case", caseID)
	}
	return r.Case(ctx, caseID)
}

// CreateCase inserts a new case. The ID is generated when empty.
func (r *queries) CreateCase(ctx context.Context, c *repository.Case) error {
	c.ID = newID(c.ID)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cases
		    (id, file_no, plot_no, current_stage_id, previous_stage_id,
		     status, post_entries_complete, version,
		     created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.FileNo,
		c.PlotNo,
		c.CurrentStageID,
		c.PreviousStageID,
		c.Status,
		c.PostEntriesComplete,
		c.Version,
		c.CreatedBy,
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return errors.AlreadyExists("case", c.FileNo)
	}
	return wrapSQLite(err, "failed to create case")
}

// MoveCase records a stage change, guarded by the version the caller read.
func (r *queries) MoveCase(ctx context.Context, c *repository.Case, toStageID string) (*repository.Case, error) {
	moved, err := scanCase(r.q.QueryRowContext(ctx, `
		UPDATE cases
		SET previous_stage_id = current_stage_id,
		    current_stage_id  = ?,
		    version           = version + 1,
		    updated_at        = ?
		WHERE id = ? AND version = ?
		RETURNING`+caseColumns,
		toStageID, nowMillis(), c.ID, c.Version,
	))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Conflict("case " + c.ID + " was modified concurrently")
	}
	if err != nil {
		return nil, wrapSQLite(err, "failed to move case")
	}
	return moved, nil
}

// UpdateCaseStatus sets the collaborator-owned status fields.
func (r *queries) UpdateCaseStatus(ctx context.Context, caseID, status string, postEntriesComplete bool) (*repository.Case, error) {
	c, err := scanCase(r.q.QueryRowContext(ctx, `
		UPDATE cases
		SET status                = ?,
		    post_entries_complete = ?,
		    updated_at            = ?
		WHERE id = ?
		RETURNING`+caseColumns,
		status, postEntriesComplete, nowMillis(), caseID,
	))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("case", caseID)
	}
	if err != nil {
		return nil, wrapSQLite(err, "failed to update case status")
	}
	return c, nil
}

func scanCase(sc scanner) (*repository.Case, error) {
	var (
		c                    repository.Case
		createdAt, updatedAt int64
	)
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}
