package postgres

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// AppendAudit inserts one audit record. The table rejects updates and deletes
// through a trigger, so this is the only mutation exposed.
func (r *queries) AppendAudit(ctx context.Context, rec *repository.AuditRecord) error {
	rec.ID = newID(rec.ID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO case_audit_log
		    (id, case_id, from_stage_id, to_stage_id, guard_name,
		     actor_id, actor_role, remarks, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.CaseID,
		rec.FromStageID,
		rec.ToStageID,
		rec.GuardName,
		rec.ActorID,
		rec.ActorRole,
		rec.Remarks,
		rec.Sequence,
		rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return errors.Conflict("audit sequence already recorded for case " + rec.CaseID)
	}
	return wrapPg(err, "failed to append audit record")
}

// AuditTrail returns every audit record of a case ordered by sequence.
func (r *queries) AuditTrail(ctx context.Context, caseID string) ([]*repository.AuditRecord, error) {
	if !validID(caseID) {
		return nil, nil
	}

	query := `
		SELECT id, case_id, from_stage_id, to_stage_id, guard_name,
		       actor_id, actor_role, remarks, sequence, created_at
		FROM case_audit_log
		WHERE case_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, wrapPg(err, "failed to get audit trail")
	}
	defer rows.Close()

	var records []*repository.AuditRecord
	for rows.Next() {
		rec := &repository.AuditRecord{}
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
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, wrapPg(err, "failed to scan audit record")
		}
		records = append(records, rec)
	}
	return records, wrapPg(rows.Err(), "failed to get audit trail")
}
