package postgres

import (
	"context"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// Documents lists the intake documents attached to a case.
func (r *queries) Documents(ctx context.Context, caseID string) ([]*repository.Document, error) {
	if !validID(caseID) {
		return nil, nil
	}

	query := `
		SELECT id, case_id, doc_type, file_ref, uploaded_by, uploaded_at
		FROM case_documents
		WHERE case_id = $1
		ORDER BY doc_type
	`

	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, wrapPg(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		d := &repository.Document{}
		if err := rows.Scan(&d.ID, &d.CaseID, &d.DocType, &d.FileRef, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, wrapPg(err, "failed to scan document")
		}
		docs = append(docs, d)
	}
	return docs, wrapPg(rows.Err(), "failed to list documents")
}

// AttachDocument records a document reference. Re-attaching a type replaces
// the previous reference.
func (r *queries) AttachDocument(ctx context.Context, d *repository.Document) error {
	query := `
		INSERT INTO case_documents (id, case_id, doc_type, file_ref, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id, doc_type) DO UPDATE
		SET file_ref    = EXCLUDED.file_ref,
		    uploaded_by = EXCLUDED.uploaded_by,
		    uploaded_at = EXCLUDED.uploaded_at
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		newID(d.ID),
		d.CaseID,
		d.DocType,
		d.FileRef,
		d.UploadedBy,
		d.UploadedAt,
	).Scan(&d.ID)
	return wrapPg(err, "failed to attach document")
}
