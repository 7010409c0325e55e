package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// LoadTopology reads every stage and every transition. Transitions come back
// in configuration order.
func (s *Store) LoadTopology(ctx context.Context) ([]*repository.Stage, []*repository.Transition, error) {
	var (
		stages      []*repository.Stage
		transitions []*repository.Transition
	)
	err := s.db.ReadOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, code, name, sort_order, created_at
			FROM workflow_stages
			ORDER BY sort_order, code`)
		if err != nil {
			return wrapPg(err, "failed to load stages")
		}
		for rows.Next() {
			st := &repository.Stage{}
			if err := rows.Scan(&st.ID, &st.Code, &st.Name, &st.SortOrder, &st.CreatedAt); err != nil {
				rows.Close()
				return wrapPg(err, "failed to scan stage")
			}
			stages = append(stages, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return wrapPg(err, "failed to load stages")
		}

		rows, err = tx.Query(ctx, `
			SELECT id, from_stage_id, to_stage_id, guard_name, required_role, position, created_at
			FROM workflow_transitions
			ORDER BY position, created_at, id`)
		if err != nil {
			return wrapPg(err, "failed to load transitions")
		}
		defer rows.Close()
		for rows.Next() {
			t := &repository.Transition{}
			err := rows.Scan(&t.ID, &t.FromStageID, &t.ToStageID, &t.GuardName, &t.RequiredRole, &t.Position, &t.CreatedAt)
			if err != nil {
				return wrapPg(err, "failed to scan transition")
			}
			transitions = append(transitions, t)
		}
		return wrapPg(rows.Err(), "failed to load transitions")
	})
	if err != nil {
		return nil, nil, mapTxError(err)
	}
	return stages, transitions, nil
}

// SeedTopology upserts stages by code and transitions by (from, to) in one
// transaction. Rows not mentioned are left in place.
func (s *Store) SeedTopology(ctx context.Context, stages []repository.Stage, specs []repository.TransitionSpec) error {
	return mapTxError(s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		ids := make(map[string]string, len(stages))
		for _, st := range stages {
			var id string
			err := tx.QueryRow(ctx, `
				INSERT INTO workflow_stages (id, code, name, sort_order)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (code) DO UPDATE
				SET name       = EXCLUDED.name,
				    sort_order = EXCLUDED.sort_order
				RETURNING id`,
				newID(st.ID), st.Code, st.Name, st.SortOrder,
			).Scan(&id)
			if err != nil {
				return wrapPg(err, "failed to seed stage "+st.Code)
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
			_, err = tx.Exec(ctx, `
				INSERT INTO workflow_transitions (id, from_stage_id, to_stage_id, guard_name, required_role, position)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (from_stage_id, to_stage_id) DO UPDATE
				SET guard_name    = EXCLUDED.guard_name,
				    required_role = EXCLUDED.required_role,
				    position      = EXCLUDED.position`,
				newID(""), fromID, toID, spec.GuardName, spec.RequiredRole, spec.Position,
			)
			if err != nil {
				return wrapPg(err, "failed to seed transition "+spec.FromCode+" -> "+spec.ToCode)
			}
		}
		return nil
	}))
}

// UndeclaredTransitions returns persisted edges missing from specs. They stay
// live because configuration rows are never deleted.
func (s *Store) UndeclaredTransitions(ctx context.Context, specs []repository.TransitionSpec) ([]repository.TransitionSpec, error) {
	declared := repository.SpecKeys(specs)
	var out []repository.TransitionSpec
	err := s.db.ReadOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT f.code, t.code, tr.guard_name, tr.required_role, tr.position
			FROM workflow_transitions tr
			JOIN workflow_stages f ON f.id = tr.from_stage_id
			JOIN workflow_stages t ON t.id = tr.to_stage_id
			ORDER BY tr.position, tr.created_at, tr.id`)
		if err != nil {
			return wrapPg(err, "failed to list transitions")
		}
		defer rows.Close()
		for rows.Next() {
			var spec repository.TransitionSpec
			if err := rows.Scan(&spec.FromCode, &spec.ToCode, &spec.GuardName, &spec.RequiredRole, &spec.Position); err != nil {
				return wrapPg(err, "failed to scan transition")
			}
			if _, ok := declared[spec.Key()]; !ok {
				out = append(out, spec)
			}
		}
		return wrapPg(rows.Err(), "failed to list transitions")
	})
	if err != nil {
		return nil, mapTxError(err)
	}
	return out, nil
}

func stageID(ctx context.Context, tx pgx.Tx, known map[string]string, code string) (string, error) {
	if id, ok := known[code]; ok {
		return id, nil
	}
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM workflow_stages WHERE code = $1`, code).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", errors.NotFound("stage", code)
	}
	if err != nil {
		return "", wrapPg(err, "failed to resolve stage "+code)
	}
	known[code] = id
	return id, nil
}
