package groups

import (
	"context"
	"sort"

	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/paging"
)

// Catalog is the set of groups known during one cycle, indexed by id and identifier
type Catalog struct {
	groups       []*domain.Group
	byID         map[int]*domain.Group
	byIdentifier map[string]*domain.Group
}

// NewCatalog indexes decorated groups
func NewCatalog(groups []*domain.Group) *Catalog {
	c := &Catalog{
		byID:         make(map[int]*domain.Group, len(groups)),
		byIdentifier: make(map[string]*domain.Group, len(groups)),
	}
	for _, g := range groups {
		c.Add(g)
	}
	return c
}

// Add appends g unless a group with the same id or identifier is already known
func (c *Catalog) Add(g *domain.Group) bool {
	if _, dup := c.byID[g.ID]; dup {
		return false
	}
	if _, dup := c.byIdentifier[g.Identifier]; dup {
		return false
	}
	c.groups = append(c.groups, g)
	c.byID[g.ID] = g
	c.byIdentifier[g.Identifier] = g
	return true
}

// ByID returns the group with upstream id id
func (c *Catalog) ByID(id int) (*domain.Group, bool) {
	g, ok := c.byID[id]
	return g, ok
}

// ByIdentifier returns the group with canonical identifier identifier
func (c *Catalog) ByIdentifier(identifier string) (*domain.Group, bool) {
	g, ok := c.byIdentifier[identifier]
	return g, ok
}

// Lookup finds a group by reference without going to the network
func (c *Catalog) Lookup(ref domain.GroupRef) (*domain.Group, bool) {
	if ref.IsNumeric() {
		return c.ByID(ref.ID)
	}
	return c.ByIdentifier(ref.Identifier)
}

// Groups returns the groups in insertion order: listed groups first, then groups
// fetched during resolution
func (c *Catalog) Groups() []*domain.Group {
	return append([]*domain.Group(nil), c.groups...)
}

// Len returns the number of groups
func (c *Catalog) Len() int {
	return len(c.groups)
}

// Lister is the part of the directory client listing open groups
type Lister interface {
	ListGroups() *paging.Iterator[*domain.Group]
}

// ListOpenGroups returns the decorated open groups sorted by name.
// When the listing fails part way, the groups read so far are returned with the error.
func ListOpenGroups(ctx context.Context, l Lister) ([]*domain.Group, error) {
	groups, err := paging.Collect(ctx, l.ListGroups())
	for _, g := range groups {
		Decorate(ctx, g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Name < groups[j].Name
	})
	return groups, err
}
