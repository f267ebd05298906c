// Package catalog builds the repository catalog from the ownership claims: it enumerates
// the claimed accounts and repositories, attaches their sanitized manifests, assigns the
// default groups and drops the repositories that must not be exposed.
package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/manifest"
	"github.com/w3c/groups-server/internal/paging"
)

// Source is the part of the hosting client the builder reads from
type Source interface {
	ListRepositories(login string) *paging.Iterator[*domain.Repository]
	GetRepository(ctx context.Context, owner, name string) (*domain.Repository, error)
}

// Builder builds the repository catalog
type Builder struct {
	source Source
}

// NewBuilder creates a builder reading from source
func NewBuilder(source Source) *Builder {
	return &Builder{source: source}
}

// Build returns the exposed repositories covered by claims, deduplicated and sorted by
// owner then name, case-insensitively. Accounts or repositories that cannot be read are
// logged and skipped.
func (b *Builder) Build(ctx context.Context, claims []domain.OwnershipClaim) []*domain.Repository {
	log := logging.FromContext(ctx)
	accountWide, singles := partition(claims)

	seen := make(map[string]struct{})
	var repos []*domain.Repository
	add := func(r *domain.Repository) {
		if _, dup := seen[r.Key()]; dup {
			return
		}
		seen[r.Key()] = struct{}{}
		repos = append(repos, r)
	}

	covered := make(map[string]struct{})
	for _, c := range accountWide {
		login := strings.ToLower(c.Login)
		if _, dup := covered[login]; dup {
			continue
		}
		covered[login] = struct{}{}

		n := 0
		it := b.source.ListRepositories(c.Login)
		for it.Next(ctx) {
			add(it.Value())
			n++
		}
		if err := it.Err(); err != nil {
			log.Error().Err(err).Str("login", c.Login).Int("read", n).Msg("repository listing incomplete")
			continue
		}
		log.Debug().Str("login", c.Login).Int("repositories", n).Msg("listed repositories")
	}

	for _, c := range singles {
		if _, ok := covered[strings.ToLower(c.Login)]; ok {
			continue
		}
		key := strings.ToLower(c.Login + "/" + c.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		r, err := b.source.GetRepository(ctx, c.Login, c.Name)
		if err != nil {
			log.Error().Err(err).Str("repository", c.Login+"/"+c.Name).Msg("could not read repository")
			continue
		}
		add(r)
	}

	kept := make([]*domain.Repository, 0, len(repos))
	for _, r := range repos {
		attachManifest(r, accountWide, singles)
		if r.Exposed() {
			kept = append(kept, r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return Less(kept[i], kept[j])
	})
	return kept
}

// Less orders repositories by lowercased owner, then lowercased name
func Less(a, b *domain.Repository) bool {
	ao, bo := strings.ToLower(a.Owner.Login), strings.ToLower(b.Owner.Login)
	if ao != bo {
		return ao < bo
	}
	return strings.ToLower(a.Name) < strings.ToLower(b.Name)
}

func partition(claims []domain.OwnershipClaim) (accountWide, singles []domain.OwnershipClaim) {
	for _, c := range claims {
		if c.AccountWide() {
			accountWide = append(accountWide, c)
		} else {
			singles = append(singles, c)
		}
	}
	return accountWide, singles
}

// attachManifest sanitizes the manifest text, falls back to the claimed default groups
// and fills in the exposed default
func attachManifest(r *domain.Repository, accountWide, singles []domain.OwnershipClaim) {
	if r.ManifestText != nil {
		r.Manifest = manifest.Sanitize(*r.ManifestText)
	}
	if r.Manifest == nil {
		if groups := DefaultGroups(r, accountWide, singles); len(groups) > 0 {
			r.Manifest = &domain.Manifest{Group: groups}
		}
	}
	if r.Manifest != nil && r.Manifest.Exposed == nil {
		r.Manifest.SetExposed(!(r.IsPrivate || r.IsArchived))
	}
}

// DefaultGroups returns the groups claimed for r: those of the single-repository claims
// naming it, or failing that those of the account-wide claims of its owner
func DefaultGroups(r *domain.Repository, accountWide, singles []domain.OwnershipClaim) []domain.GroupRef {
	if groups, matched := claimedGroups(r, singles); matched {
		return groups
	}
	groups, _ := claimedGroups(r, accountWide)
	return groups
}

func claimedGroups(r *domain.Repository, claims []domain.OwnershipClaim) ([]domain.GroupRef, bool) {
	var out []domain.GroupRef
	matched := false
	seen := make(map[domain.GroupRef]struct{})
	for _, c := range claims {
		if !c.Matches(r.Owner.Login, r.Name) {
			continue
		}
		matched = true
		for _, g := range c.Group {
			if _, dup := seen[g]; dup {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out, matched
}
