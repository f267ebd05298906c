package groups

import (
	"context"

	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/metrics"
)

// Fetcher looks up a single group, open or closed
type Fetcher interface {
	GetGroup(ctx context.Context, ref domain.GroupRef) (*domain.Group, error)
}

type memoEntry struct {
	identifier string
	found      bool
}

// Resolver maps group references to identifiers for one cycle.
// Groups missing from the catalog are fetched once and appended to it; failed lookups are
// remembered and never retried by the same resolver.
type Resolver struct {
	catalog *Catalog
	fetcher Fetcher
	metrics *metrics.Metrics
	memo    map[domain.GroupRef]memoEntry
}

// NewResolver creates a resolver scoped to one cycle
func NewResolver(catalog *Catalog, fetcher Fetcher, m *metrics.Metrics) *Resolver {
	return &Resolver{
		catalog: catalog,
		fetcher: fetcher,
		metrics: m,
		memo:    make(map[domain.GroupRef]memoEntry),
	}
}

// Catalog returns the catalog, including the groups fetched so far
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve returns the identifier of the group ref points to
func (r *Resolver) Resolve(ctx context.Context, ref domain.GroupRef) (string, bool) {
	if g, ok := r.catalog.Lookup(ref); ok {
		return g.Identifier, true
	}
	if e, ok := r.memo[ref]; ok {
		return e.identifier, e.found
	}

	log := logging.FromContext(ctx)
	g, err := r.fetcher.GetGroup(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("group", ref.String()).Msg("group not found")
		r.metrics.IncGroupLookup(false)
		r.memo[ref] = memoEntry{}
		return "", false
	}
	r.metrics.IncGroupLookup(true)

	Decorate(ctx, g)
	if known, ok := r.catalog.ByID(g.ID); ok {
		g = known
	} else if !r.catalog.Add(g) {
		log.Error().Int("group_id", g.ID).Str("identifier", g.Identifier).Msg("duplicate group identifier")
	} else {
		log.Debug().Str("identifier", g.Identifier).Bool("closed", g.IsClosed).Msg("added group to catalog")
	}

	r.memo[ref] = memoEntry{identifier: g.Identifier, found: true}
	return g.Identifier, true
}

// ResolveAll resolves refs in order, dropping the unresolved ones and duplicates
func (r *Resolver) ResolveAll(ctx context.Context, refs []domain.GroupRef) []domain.GroupRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]domain.GroupRef, 0, len(refs))
	for _, ref := range refs {
		identifier, ok := r.Resolve(ctx, ref)
		if !ok {
			continue
		}
		if _, dup := seen[identifier]; dup {
			continue
		}
		seen[identifier] = struct{}{}
		out = append(out, domain.SymbolicRef(identifier))
	}
	return out
}
