package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// LoadTopology reads every stage and every transition, transitions in
// configuration order.
func (s *Store) LoadTopology(ctx context.Context) ([]*repository.Stage, []*repository.Transition, error) {
	var (
		stages      []*repository.Stage
		transitions []*repository.Transition
	)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, wrapSQLite(err, "failed to begin read transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, code, name, sort_order, created_at
		FROM workflow_stages
		ORDER BY sort_order, code`)
	if err != nil {
		return nil, nil, wrapSQLite(err, "failed to load stages")
	}
	for rows.Next() {
		var (
			st        repository.Stage
			createdAt int64
		)
		if err := rows.Scan(&st.ID, &st.Code, &st.Name, &st.SortOrder, &createdAt); err != nil {
			rows.Close()
			return nil, nil, wrapSQLite(err, "failed to scan stage")
		}
		st.CreatedAt = fromMillis(createdAt)
		stages = append(stages, &st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, wrapSQLite(err, "failed to load stages")
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, from_stage_id, to_stage_id, guard_name, required_role, position, created_at
		FROM workflow_transitions
		ORDER BY position, created_at, id`)
	if err != nil {
		return nil, nil, wrapSQLite(err, "failed to load transitions")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t         repository.Transition
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.FromStageID, &t.ToStageID, &t.GuardName, &t.RequiredRole, &t.Position, &createdAt); err != nil {
			return nil, nil, wrapSQLite(err, "failed to scan transition")
		}
		t.CreatedAt = fromMillis(createdAt)
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapSQLite(err, "failed to load transitions")
	}
	return stages, transitions, nil
}

// SeedTopology upserts stages by code and transitions by (from, to) in one
// transaction. Rows not mentioned are left in place.
func (s *Store) SeedTopology(ctx context.Context, stages []repository.Stage, specs []repository.TransitionSpec) error {
	select {
	case s.write <- struct{}{}:
	case <-ctx.Done():
		return errors.Unavailable(ctx.Err(), "timed out waiting for write lock")
	}
	defer func() { <-s.write }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	ids := make(map[string]string, len(stages))
	for _, st := range stages {
		var id string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO workflow_stages (id, code, name, sort_order, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (code) DO UPDATE
			SET name       = excluded.name,
			    sort_order = excluded.sort_order
			RETURNING id`,
			newID(st.ID), st.Code, st.Name, st.SortOrder, now,
		).Scan(&id)
		if err != nil {
			return wrapSQLite(err, "failed to seed stage "+st.Code)
		}
		ids[st.Code] = id
	}

	for _, spec := range specs {
		fromID, err := stageID(ctx, tx, ids, spec.FromCode)
		if err != nil {
			return err
		}
		toID, err := stageID(ctx, tx, ids, spec.ToCode)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_transitions (id, from_stage_id, to_stage_id, guard_name, required_role, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (from_stage_id, to_stage_id) DO UPDATE
			SET guard_name    = excluded.guard_name,
			    required_role = excluded.required_role,
			    position      = excluded.position`,
			newID(""), fromID, toID, spec.GuardName, spec.RequiredRole, spec.Position, now,
		)
		if err != nil {
			return wrapSQLite(err, "failed to seed transition "+spec.FromCode+" -> "+spec.ToCode)
		}
	}
	return wrapSQLite(tx.Commit(), "failed to commit topology seed")
}

// UndeclaredTransitions returns persisted edges missing from specs. They stay
// live because configuration rows are never deleted.
func (s *Store) UndeclaredTransitions(ctx context.Context, specs []repository.TransitionSpec) ([]repository.TransitionSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.code, t.code, tr.guard_name, tr.required_role, tr.position
		FROM workflow_transitions tr
		JOIN workflow_stages f ON f.id = tr.from_stage_id
		JOIN workflow_stages t ON t.id = tr.to_stage_id
		ORDER BY tr.position, tr.created_at, tr.id`)
	if err != nil {
		return nil, wrapSQLite(err, "failed to list transitions")
	}
	defer rows.Close()

	declared := repository.SpecKeys(specs)
	var out []repository.TransitionSpec
	for rows.Next() {
		var spec repository.TransitionSpec
		if err := rows.Scan(&spec.FromCode, &spec.ToCode, &spec.GuardName, &spec.RequiredRole, &spec.Position); err != nil {
			return nil, wrapSQLite(err, "failed to scan transition")
		}
		if _, ok := declared[spec.Key()]; !ok {
			out = append(out, spec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLite(err, "failed to list transitions")
	}
	return out, nil
}

func stageID(ctx context.Context, tx *sql.Tx, known map[string]string, code string) (string, error) {
	if id, ok := known[code]; ok {
		return id, nil
	}
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM workflow_stages WHERE code = ?`, code).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.NotFound("stage", code)
	}
	if err != nil {
		return "", wrapSQLite(err, "failed to resolve stage "+code)
	}
	known[code] = id
	return id, nil
}
