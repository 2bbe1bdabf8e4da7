// Package directory provides read-only lead lookups for enrollment and dispatch.
package directory

import (
	"context"
	"sync"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Directory resolves a lead by id. Implementations return models.ErrLeadNotFound for unknown ids.
type Directory interface {
	GetLead(ctx context.Context, id string) (*models.Lead, error)
}

// MemoryDirectory is an in-process directory used by tests and the CLI fixture mode.
type MemoryDirectory struct {
	mu    sync.RWMutex
	leads map[string]models.Lead
}

// NewMemoryDirectory creates a directory seeded with leads.
func NewMemoryDirectory(leads ...models.Lead) *MemoryDirectory {
	d := &MemoryDirectory{leads: make(map[string]models.Lead, len(leads))}
	for _, l := range leads {
		d.leads[l.ID] = l
	}
	return d
}

// Put adds or replaces a lead.
func (d *MemoryDirectory) Put(l models.Lead) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leads[l.ID] = l
}

func (d *MemoryDirectory) GetLead(_ context.Context, id string) (*models.Lead, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.leads[id]
	if !ok {
		return nil, models.ErrLeadNotFound
	}
	return &l, nil
}
