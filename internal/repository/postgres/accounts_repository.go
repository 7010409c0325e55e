package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

const accountsColumns = `
	id, case_id, transfer_fee, stamp_duty, registration_fee,
	processing_fee, other_charges, total_amount,
	payment_verified, challan_no, updated_at`

// AccountsBreakdown returns the fee schedule of a case, or nil.
func (r *queries) AccountsBreakdown(ctx context.Context, caseID string) (*repository.AccountsBreakdown, error) {
	if !validID(caseID) {
		return nil, nil
	}

	b, err := scanAccounts(r.q.QueryRow(ctx, `SELECT`+accountsColumns+`
		FROM case_accounts_breakdowns
		WHERE case_id = $1`, caseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPg(err, "failed to get accounts breakdown")
	}
	return b, nil
}

// SaveAccountsBreakdown upserts the fee schedule. The total is always
// recomputed from the itemised fees.
func (r *queries) SaveAccountsBreakdown(ctx context.Context, b *repository.AccountsBreakdown) error {
	b.ComputeTotal()

	query := `
		INSERT INTO case_accounts_breakdowns
		    (id, case_id, transfer_fee, stamp_duty, registration_fee,
		     processing_fee, other_charges, total_amount,
		     payment_verified, challan_no)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10)
		ON CONFLICT (case_id) DO UPDATE
		SET transfer_fee     = EXCLUDED.transfer_fee,
		    stamp_duty       = EXCLUDED.stamp_duty,
		    registration_fee = EXCLUDED.registration_fee,
		    processing_fee   = EXCLUDED.processing_fee,
		    other_charges    = EXCLUDED.other_charges,
		    total_amount     = EXCLUDED.total_amount,
		    payment_verified = EXCLUDED.payment_verified,
		    challan_no       = EXCLUDED.challan_no,
		    updated_at       = NOW()
		RETURNING` + accountsColumns

	stored, err := scanAccounts(r.q.QueryRow(ctx, query,
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
	))
	if err != nil {
		return wrapPg(err, "failed to save accounts breakdown")
	}
	*b = *stored
	return nil
}

func scanAccounts(sc scanner) (*repository.AccountsBreakdown, error) {
	b := &repository.AccountsBreakdown{}
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
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
