package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

func builtinGuards(opts GuardOptions) []Guard {
	intakeDocs := append([]string(nil), opts.IntakeDocuments...)
	sections := append([]string(nil), opts.RequiredSections...)
	bcaHousing := []string{repository.SectionBCA, repository.SectionHousing}

	return []Guard{
		&guard{
			name:  GuardIntakeComplete,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) { return checkIntakeDocuments(ctx, gc, intakeDocs) },
		},
		&guard{
			name:  GuardScrutinyComplete,
			check: checkScrutinyRecorded,
		},
		&guard{
			name:  GuardClearancesComplete,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) { return checkClearancesDecided(ctx, gc, sections) },
		},
		&guard{
			name:  GuardBCAHousingReview,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) { return checkClearancesClear(ctx, gc, bcaHousing) },
		},
		&guard{
			name:  GuardOWOReviewComplete,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) { return checkReviewApproved(ctx, gc, repository.SectionOWO, "OWO review") },
		},
		&guard{
			name: GuardSentToAccounts,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) {
				res, err := checkClearancesClear(ctx, gc, bcaHousing)
				if err != nil || !res.CanTransition {
					return res, err
				}
				return checkReviewApproved(ctx, gc, repository.SectionOWO, "OWO review")
			},
			effect: func(ctx context.Context, gc *GuardContext, w Writer) error {
				_, err := w.EnsureClearance(ctx, gc.Case.ID, repository.SectionAccounts, repository.ClearanceStatusPending)
				return err
			},
		},
		&guard{
			name:  GuardAccountsClear,
			check: checkPaymentVerified,
			effect: func(ctx context.Context, gc *GuardContext, w Writer) error {
				now := gc.Now
				return w.SetClearanceStatus(ctx, gc.Case.ID, repository.SectionAccounts, repository.ClearanceStatusClear, &now)
			},
		},
		&guard{
			name: GuardAccountsReviewed,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) {
				return checkClearancesClear(ctx, gc, []string{repository.SectionAccounts})
			},
		},
		&guard{
			name: GuardOWOAccountsReviewComplete,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) {
				return checkReviewApproved(ctx, gc, repository.SectionOWOAccounts, "OWO accounts review")
			},
		},
		&guard{
			name: GuardApprovalComplete,
			check: func(ctx context.Context, gc *GuardContext) (GuardResult, error) {
				return checkReviewApproved(ctx, gc, repository.SectionApproval, "approver sign-off")
			},
		},
		&guard{
			name:  GuardStartPostEntries,
			check: checkCaseApproved,
		},
		&guard{
			name:  GuardCloseCase,
			check: checkPostEntriesComplete,
		},
		&guard{
			name:  GuardNone,
			check: func(context.Context, *GuardContext) (GuardResult, error) { return Allow(), nil },
		},
	}
}

// ── Predicates ───────────────────────────────────────────────────────────────

func checkIntakeDocuments(ctx context.Context, gc *GuardContext, required []string) (GuardResult, error) {
	docs, err := gc.Data.Documents(ctx, gc.Case.ID)
	if err != nil {
		return GuardResult{}, err
	}
	present := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		present[d.DocType] = struct{}{}
	}

	var missing []string
	for _, docType := range required {
		if _, ok := present[docType]; !ok {
			missing = append(missing, docType)
		}
	}
	if len(missing) > 0 {
		return Deny(
			fmt.Sprintf("%d of %d required intake documents are missing: %s", len(missing), len(required), strings.Join(missing, ", ")),
			map[string]any{"missing_documents": missing},
		), nil
	}
	return Allow(), nil
}

func checkScrutinyRecorded(ctx context.Context, gc *GuardContext) (GuardResult, error) {
	r, err := gc.Data.Review(ctx, gc.Case.ID, repository.SectionScrutiny)
	if err != nil {
		return GuardResult{}, err
	}
	if r == nil {
		return Deny("scrutiny review has not been recorded",
			map[string]any{"section": repository.SectionScrutiny}), nil
	}
	if r.Status == repository.ReviewStatusRejected {
		return Deny("scrutiny review was rejected",
			map[string]any{"section": repository.SectionScrutiny, "review_status": r.Status}), nil
	}
	return Allow(), nil
}

// checkClearancesDecided passes when every section has a clearance that is no
// longer PENDING.
func checkClearancesDecided(ctx context.Context, gc *GuardContext, sections []string) (GuardResult, error) {
	statuses, err := clearanceStatuses(ctx, gc)
	if err != nil {
		return GuardResult{}, err
	}

	var missing, pending []string
	for _, s := range sections {
		status, ok := statuses[s]
		switch {
		case !ok:
			missing = append(missing, s)
		case status == repository.ClearanceStatusPending:
			pending = append(pending, s)
		}
	}
	if n := len(missing) + len(pending); n > 0 {
		meta := map[string]any{}
		if len(missing) > 0 {
			meta["missing_sections"] = missing
		}
		if len(pending) > 0 {
			meta["pending_sections"] = pending
		}
		return Deny(fmt.Sprintf("%d of %d required clearances are missing or pending", n, len(sections)), meta), nil
	}
	return Allow(), nil
}

// checkClearancesClear passes when every section has a CLEAR clearance.
func checkClearancesClear(ctx context.Context, gc *GuardContext, sections []string) (GuardResult, error) {
	statuses, err := clearanceStatuses(ctx, gc)
	if err != nil {
		return GuardResult{}, err
	}

	var unmet []string
	observed := make(map[string]string, len(sections))
	for _, s := range sections {
		status, ok := statuses[s]
		if !ok {
			status = "MISSING"
		}
		if status != repository.ClearanceStatusClear {
			unmet = append(unmet, s)
			observed[s] = status
		}
	}
	if len(unmet) > 0 {
		return Deny(
			fmt.Sprintf("%d of %d required clearances are not CLEAR: %s", len(unmet), len(sections), strings.Join(unmet, ", ")),
			map[string]any{"unmet_sections": unmet, "statuses": observed},
		), nil
	}
	return Allow(), nil
}

func checkReviewApproved(ctx context.Context, gc *GuardContext, section, label string) (GuardResult, error) {
	r, err := gc.Data.Review(ctx, gc.Case.ID, section)
	if err != nil {
		return GuardResult{}, err
	}
	if r == nil {
		return Deny(label+" has not been recorded", map[string]any{"section": section}), nil
	}
	if r.Status != repository.ReviewStatusApproved {
		return Deny(fmt.Sprintf("%s is %s, expected %s", label, r.Status, repository.ReviewStatusApproved),
			map[string]any{"section": section, "review_status": r.Status}), nil
	}
	return Allow(), nil
}

func checkPaymentVerified(ctx context.Context, gc *GuardContext) (GuardResult, error) {
	b, err := gc.Data.AccountsBreakdown(ctx, gc.Case.ID)
	if err != nil {
		return GuardResult{}, err
	}
	if b == nil {
		return Deny("accounts breakdown has not been prepared", map[string]any{"accounts_breakdown": "missing"}), nil
	}
	if !b.PaymentVerified {
		meta := map[string]any{"payment_verified": false, "total_amount": b.TotalAmount}
		if b.ChallanNo != nil {
			meta["challan_no"] = *b.ChallanNo
		}
		return Deny("payment has not been verified", meta), nil
	}
	return Allow(), nil
}

func checkCaseApproved(_ context.Context, gc *GuardContext) (GuardResult, error) {
	if gc.Case.Status != repository.CaseStatusApproved {
		return Deny(fmt.Sprintf("case status is %s, expected %s", gc.Case.Status, repository.CaseStatusApproved),
			map[string]any{"status": gc.Case.Status}), nil
	}
	return Allow(), nil
}

func checkPostEntriesComplete(_ context.Context, gc *GuardContext) (GuardResult, error) {
	if !gc.Case.PostEntriesComplete {
		return Deny("post entries have not been completed", map[string]any{"post_entries_complete": false}), nil
	}
	return Allow(), nil
}

func clearanceStatuses(ctx context.Context, gc *GuardContext) (map[string]string, error) {
	clearances, err := gc.Data.Clearances(ctx, gc.Case.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(clearances))
	for _, c := range clearances {
		out[c.SectionCode] = c.StatusCode
	}
	return out, nil
}
