package workflow

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// fakeData is an in-memory Reader and Writer for guard and evaluator tests.
type fakeData struct {
	docs       []*repository.Document
	clearances map[string]*repository.Clearance
	reviews    map[string]*repository.Review
	accounts   *repository.AccountsBreakdown
	err        error

	reads  int
	writes []string
}

func newFakeData() *fakeData {
	return &fakeData{
		clearances: map[string]*repository.Clearance{},
		reviews:    map[string]*repository.Review{},
	}
}

func (f *fakeData) withDocs(types ...string) *fakeData {
	for _, t := range types {
		f.docs = append(f.docs, &repository.Document{CaseID: "case-1", DocType: t})
	}
	return f
}

func (f *fakeData) withClearance(section, status string) *fakeData {
	f.clearances[section] = &repository.Clearance{CaseID: "case-1", SectionCode: section, StatusCode: status}
	return f
}

func (f *fakeData) withReview(section, status string) *fakeData {
	f.reviews[section] = &repository.Review{CaseID: "case-1", SectionCode: section, Status: status}
	return f
}

func (f *fakeData) Documents(context.Context, string) ([]*repository.Document, error) {
	f.reads++
	return f.docs, f.err
}

func (f *fakeData) Clearances(context.Context, string) ([]*repository.Clearance, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*repository.Clearance, 0, len(f.clearances))
	for _, c := range f.clearances {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeData) Clearance(_ context.Context, _ string, section string) (*repository.Clearance, error) {
	f.reads++
	return f.clearances[section], f.err
}

func (f *fakeData) Review(_ context.Context, _ string, section string) (*repository.Review, error) {
	f.reads++
	return f.reviews[section], f.err
}

func (f *fakeData) AccountsBreakdown(context.Context, string) (*repository.AccountsBreakdown, error) {
	f.reads++
	return f.accounts, f.err
}

func (f *fakeData) EnsureClearance(_ context.Context, caseID, section, status string) (bool, error) {
	f.writes = append(f.writes, "ensure:"+section+":"+status)
	if _, ok := f.clearances[section]; ok {
		return false, nil
	}
	f.clearances[section] = &repository.Clearance{CaseID: caseID, SectionCode: section, StatusCode: status}
	return true, nil
}

func (f *fakeData) SetClearanceStatus(_ context.Context, caseID, section, status string, clearedAt *time.Time) error {
	f.writes = append(f.writes, "set:"+section+":"+status)
	f.clearances[section] = &repository.Clearance{CaseID: caseID, SectionCode: section, StatusCode: status, ClearedAt: clearedAt}
	return nil
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func guardContext(data *fakeData) *GuardContext {
	return &GuardContext{
		Case:  &repository.Case{ID: "case-1", FileNo: "F-1", Status: repository.CaseStatusOpen, Version: 1},
		Actor: Actor{ID: "user-1", Role: "CLERK"},
		Now:   fixedNow,
		Data:  data,
	}
}
