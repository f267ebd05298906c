package aggregator

import (
	"sort"

	"github.com/w3c/groups-server/internal/domain"
)

// Bundle is the set of repositories published for one group
type Bundle struct {
	Group *domain.Group

	// Direct are the repositories whose manifest names the group
	Direct []*domain.Repository

	// Indirect are the repositories directly associated with a group listing this one
	// among its members
	Indirect []*domain.Repository
}

// Aggregator defines the interface for deriving the published views of one cycle
type Aggregator interface {
	// GroupRepositories returns the repositories associated with at least one group
	GroupRepositories(repos []*domain.Repository) []*domain.Repository

	// Identifiers returns the id to identifier index of groups
	Identifiers(groups []*domain.Group) []domain.GroupIdentifier

	// Associate computes the direct and indirect repositories of every group
	Associate(groups []*domain.Group, repos []*domain.Repository) []Bundle
}

// aggregator implements the Aggregator interface
type aggregator struct{}

// NewAggregator creates a new aggregator
func NewAggregator() Aggregator {
	return aggregator{}
}

// GroupRepositories keeps catalog order
func (aggregator) GroupRepositories(repos []*domain.Repository) []*domain.Repository {
	out := make([]*domain.Repository, 0, len(repos))
	for _, r := range repos {
		if len(r.GroupRefs()) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// Identifiers keeps the order of groups
func (aggregator) Identifiers(groups []*domain.Group) []domain.GroupIdentifier {
	out := make([]domain.GroupIdentifier, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.GroupIdentifier{ID: g.ID, Identifier: g.Identifier})
	}
	return out
}

// Associate returns one bundle per group, in the order of groups. A repository matches a
// group when its manifest lists either the group id or its identifier. Membership is
// followed one level only.
func (aggregator) Associate(groups []*domain.Group, repos []*domain.Repository) []Bundle {
	idx := indexRepositories(repos)

	direct := make(map[int][]*domain.Repository, len(groups))
	for _, g := range groups {
		direct[g.ID] = idx.lookup(repos, g)
	}

	bundles := make([]Bundle, 0, len(groups))
	for _, g := range groups {
		b := Bundle{Group: g, Direct: direct[g.ID], Indirect: []*domain.Repository{}}
		seen := make(map[string]struct{})
		for _, parent := range groups {
			if parent.ID == g.ID || !parent.HasMember(g.ID) {
				continue
			}
			for _, r := range direct[parent.ID] {
				if _, dup := seen[r.Key()]; dup {
					continue
				}
				seen[r.Key()] = struct{}{}
				b.Indirect = append(b.Indirect, r)
			}
		}
		bundles = append(bundles, b)
	}
	return bundles
}

// repoIndex maps each group reference to the positions of the repositories naming it
type repoIndex map[domain.GroupRef][]int

func indexRepositories(repos []*domain.Repository) repoIndex {
	idx := make(repoIndex)
	for i, r := range repos {
		for _, ref := range r.GroupRefs() {
			idx[ref] = append(idx[ref], i)
		}
	}
	return idx
}

func (idx repoIndex) lookup(repos []*domain.Repository, g *domain.Group) []*domain.Repository {
	positions := make(map[int]struct{})
	for _, i := range idx[domain.NumericRef(g.ID)] {
		positions[i] = struct{}{}
	}
	if g.Identifier != "" {
		for _, i := range idx[domain.SymbolicRef(g.Identifier)] {
			positions[i] = struct{}{}
		}
	}

	ordered := make([]int, 0, len(positions))
	for i := range positions {
		ordered = append(ordered, i)
	}
	sort.Ints(ordered)

	out := make([]*domain.Repository, 0, len(ordered))
	for _, i := range ordered {
		out = append(out, repos[i])
	}
	return out
}
