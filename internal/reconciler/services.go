package reconciler

import (
	"context"
	"net/url"
	"strings"

	"github.com/w3c/groups-server/internal/directory"
	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/logging"
)

// hostingDomain is the host whose links can be claimed through group services
const hostingDomain = "github.com"

type linkKind int

const (
	linkUnrelated linkKind = iota
	linkRoot
	linkAccount
	linkRepository
)

// parseHostingLink extracts the account and repository named by a hosting link
func parseHostingLink(link string) (login, name string, kind linkKind) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return "", "", linkUnrelated
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != hostingDomain {
		return "", "", linkUnrelated
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	// github.com/orgs/{login}[/...] names the organization itself
	if len(parts) > 0 && strings.EqualFold(parts[0], "orgs") {
		if len(parts) == 1 {
			return "", "", linkRoot
		}
		return parts[1], "", linkAccount
	}
	switch len(parts) {
	case 0:
		return "", "", linkRoot
	case 1:
		return parts[0], "", linkAccount
	default:
		return parts[0], strings.TrimSuffix(parts[1], ".git"), linkRepository
	}
}

// serviceClaims derives ownership claims from the version-control services of groups.
// Groups whose services cannot be read contribute nothing.
func serviceClaims(ctx context.Context, dir directory.Client, groups []*domain.Group) []domain.OwnershipClaim {
	log := logging.FromContext(ctx)

	var claims []domain.OwnershipClaim
	for _, g := range groups {
		it := dir.ListServices(g.ID)
		for it.Next(ctx) {
			svc := it.Value()
			if !svc.VersionControl() {
				continue
			}
			if svc.Link == "" && svc.Href != "" {
				full, err := dir.GetService(ctx, svc.Href)
				if err != nil {
					log.Warn().Err(err).Str("service", svc.Href).Msg("could not read service")
					continue
				}
				svc = full
			}

			login, name, kind := parseHostingLink(svc.Link)
			switch kind {
			case linkRoot:
				log.Error().Str("group", g.Identifier).Str("link", svc.Link).Msg("group claims the whole hosting service, ignored")
			case linkAccount, linkRepository:
				claims = append(claims, domain.OwnershipClaim{
					Login: login,
					Name:  name,
					Group: []domain.GroupRef{domain.NumericRef(g.ID)},
				})
				log.Debug().Str("group", g.Identifier).Str("login", login).Str("name", name).Msg("claim from group service")
			}
		}
		if err := it.Err(); err != nil {
			log.Warn().Err(err).Str("group", g.Identifier).Msg("could not list group services")
		}
	}
	return claims
}
