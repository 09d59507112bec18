package workflows

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"curator/internal/plugin"
	"curator/internal/services"
	"curator/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Page selects a window of a listing.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalized() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	switch {
	case p.Limit <= 0:
		p.Limit = defaultPageLimit
	case p.Limit > maxPageLimit:
		p.Limit = maxPageLimit
	}
	return p
}

// Store is the persistence the registry needs.
type Store interface {
	InsertDefinition(ctx context.Context, def *store.WorkflowDefinition) error
	UpdateDefinition(ctx context.Context, def *store.WorkflowDefinition) error
	DeleteDefinition(ctx context.Context, owner, name string) error
	GetDefinition(ctx context.Context, owner, name string) (*store.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter store.DefinitionFilter) ([]*store.WorkflowDefinition, error)
}

// Registry provides CRUD over workflow definitions.
type Registry struct {
	store Store
}

// NewRegistry wraps st.
func NewRegistry(st Store) *Registry {
	return &Registry{store: st}
}

// Create validates and persists def, returning its id.
func (r *Registry) Create(ctx context.Context, def *store.WorkflowDefinition) (string, error) {
	if err := normalize(def); err != nil {
		return "", err
	}
	if err := r.store.InsertDefinition(ctx, def); err != nil {
		return "", err
	}
	return def.ID, nil
}

// Update replaces the steps of an existing definition.
func (r *Registry) Update(ctx context.Context, def *store.WorkflowDefinition) error {
	if err := normalize(def); err != nil {
		return err
	}
	return r.store.UpdateDefinition(ctx, def)
}

// Delete removes the definition identified by owner and name.
func (r *Registry) Delete(ctx context.Context, owner, name string) error {
	return r.store.DeleteDefinition(ctx, normalizeName(owner), normalizeName(name))
}

// Get returns the definition, or nil when it does not exist.
func (r *Registry) Get(ctx context.Context, owner, name string) (*store.WorkflowDefinition, error) {
	return r.store.GetDefinition(ctx, normalizeName(owner), normalizeName(name))
}

// List returns definitions for owner whose name starts with namePrefix.
// An empty owner lists every owner.
func (r *Registry) List(ctx context.Context, owner, namePrefix string, page Page) ([]*store.WorkflowDefinition, error) {
	page = page.normalized()
	return r.store.ListDefinitions(ctx, store.DefinitionFilter{
		Owner:      normalizeName(owner),
		NamePrefix: normalizeName(namePrefix),
		Offset:     page.Offset,
		Limit:      page.Limit,
	})
}

// IsStepDeclaredAfter reports whether both kinds occur in def and the first
// occurrence of later comes after the first occurrence of earlier. Only step
// position is consulted.
func IsStepDeclaredAfter(def *store.WorkflowDefinition, earlier, later plugin.Kind) bool {
	if def == nil {
		return false
	}
	earlierIdx, laterIdx := -1, -1
	for i, step := range def.Steps {
		if step.Kind == earlier && earlierIdx < 0 {
			earlierIdx = i
		}
		if step.Kind == later && laterIdx < 0 {
			laterIdx = i
		}
	}
	if earlierIdx < 0 || laterIdx < 0 {
		return false
	}
	return laterIdx > earlierIdx
}

func normalizeName(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

func normalize(def *store.WorkflowDefinition) error {
	if def == nil {
		return services.Wrap(services.ErrInvalidWorkflow, "validate workflow", "definition is required", nil)
	}
	def.Owner = normalizeName(def.Owner)
	def.Name = normalizeName(def.Name)
	def.DatasetID = strings.TrimSpace(def.DatasetID)
	if def.Owner == "" || def.Name == "" {
		return services.Wrap(services.ErrInvalidWorkflow, "validate workflow", "owner and name are required", nil)
	}
	if len(def.Steps) == 0 {
		return services.Wrap(services.ErrInvalidWorkflow, "validate workflow",
			fmt.Sprintf("%s/%s declares no steps", def.Owner, def.Name), nil)
	}
	for i := range def.Steps {
		kind, ok := plugin.ParseKind(string(def.Steps[i].Kind))
		if !ok {
			return services.Wrap(services.ErrInvalidWorkflow, "validate workflow",
				fmt.Sprintf("step %d has unknown kind %q", i, def.Steps[i].Kind), nil)
		}
		def.Steps[i].Kind = kind
	}
	return nil
}
