package sqlite

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// AppendAudit inserts one audit record. Triggers reject updates and deletes.
func (r *queries) AppendAudit(ctx context.Context, rec *repository.AuditRecord) error {
	rec.ID = newID(rec.ID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO case_audit_log
		    (id, case_id, from_stage_id, to_stage_id, guard_name,
		     actor_id, actor_role, remarks, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CaseID,
		rec.FromStageID,
		rec.ToStageID,
		rec.GuardName,
		rec.ActorID,
		rec.ActorRole,
		rec.Remarks,
		rec.Sequence,
		toMillis(rec.CreatedAt),
	)
	if isUniqueViolation(err) {
		return errors.Conflict("audit sequence already recorded for case " + rec.CaseID)
	}
	return wrapSQLite(err, "failed to append audit record")
}

// AuditTrail returns every audit record of a case ordered by sequence.
func (r *queries) AuditTrail(ctx context.Context, caseID string) ([]*repository.AuditRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, case_id, from_stage_id, to_stage_id, guard_name,
		       actor_id, actor_role, remarks, sequence, created_at
		FROM case_audit_log
		WHERE case_id = ?
		ORDER BY sequence ASC`, caseID)
	if err != nil {
		return nil, wrapSQLite(err, "failed to get audit trail")
	}
	defer rows.Close()

	var records []*repository.AuditRecord
	for rows.Next() {
		var (
			rec       repository.AuditRecord
			createdAt int64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.CaseID,
			&rec.FromStageID,
			&rec.ToStageID,
			&rec.GuardName,
			&rec.ActorID,
			&rec.ActorRole,
			&rec.Remarks,
			&rec.Sequence,
			&createdAt,
		)
		if err != nil {
			return nil, wrapSQLite(err, "failed to scan audit record")
		}
		rec.CreatedAt = fromMillis(createdAt)
		records = append(records, &rec)
	}
	return records, wrapSQLite(rows.Err(), "failed to get audit trail")
}
