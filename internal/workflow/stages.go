package workflow

import (
	"fmt"
	"sort"

	"github.com/pesio-ai/be-plot-transfers/internal/repository"
)

// StageCatalogue resolves stage codes and IDs. It is immutable once built;
// reloading configuration builds a new catalogue.
type StageCatalogue struct {
	byCode  map[string]repository.Stage
	byID    map[string]repository.Stage
	ordered []repository.Stage
}

// NewStageCatalogue indexes stages by code and ID. Duplicate codes or IDs are
// a configuration error.
func NewStageCatalogue(stages []*repository.Stage) (*StageCatalogue, error) {
	c := &StageCatalogue{
		byCode:  make(map[string]repository.Stage, len(stages)),
		byID:    make(map[string]repository.Stage, len(stages)),
		ordered: make([]repository.Stage, 0, len(stages)),
	}
	for _, s := range stages {
		if s.Code == "" || s.ID == "" {
			return nil, fmt.Errorf("%w: stage with empty code or id", ErrInvalidTopology)
		}
		if _, dup := c.byCode[s.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate stage code %s", ErrInvalidTopology, s.Code)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate stage id %s", ErrInvalidTopology, s.ID)
		}
		c.byCode[s.Code] = *s
		c.byID[s.ID] = *s
		c.ordered = append(c.ordered, *s)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		if c.ordered[i].SortOrder != c.ordered[j].SortOrder {
			return c.ordered[i].SortOrder < c.ordered[j].SortOrder
		}
		return c.ordered[i].Code < c.ordered[j].Code
	})
	return c, nil
}

// Resolve returns the stage with the given code.
func (c *StageCatalogue) Resolve(code string) (repository.Stage, error) {
	s, ok := c.byCode[code]
	if !ok {
		return repository.Stage{}, fmt.Errorf("%w: code %s", ErrStageNotFound, code)
	}
	return s, nil
}

// ByID returns the stage with the given identity.
func (c *StageCatalogue) ByID(id string) (repository.Stage, error) {
	s, ok := c.byID[id]
	if !ok {
		return repository.Stage{}, fmt.Errorf("%w: id %s", ErrStageNotFound, id)
	}
	return s, nil
}

// List returns stages in pipeline order.
func (c *StageCatalogue) List() []repository.Stage {
	out := make([]repository.Stage, len(c.ordered))
	copy(out, c.ordered)
	return out
}
