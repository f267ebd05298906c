// Package groups decorates directory groups with their canonical identifier and resolves
// the group references found in repository manifests.
package groups

import (
	"context"
	"strings"

	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/logging"
)

type classification struct {
	groupType   domain.GroupType
	trPublisher bool
}

// byDiscr maps discriminators that identify the group class on their own
var byDiscr = map[string]classification{
	"tf":           {domain.GroupTypeTaskForce, false},
	"taskforce":    {domain.GroupTypeTaskForce, false},
	"task force":   {domain.GroupTypeTaskForce, false},
	"coordination": {domain.GroupTypeCoordination, true},
	"coord":        {domain.GroupTypeCoordination, true},
	"xg":           {domain.GroupTypeExploratory, false},
	"incubator":    {domain.GroupTypeExploratory, false},
	"exploratory":  {domain.GroupTypeExploratory, false},
}

// byType maps the free-text type of "w3cgroup" records
var byType = map[string]classification{
	"working group":      {domain.GroupTypeWorking, true},
	"interest group":     {domain.GroupTypeInterest, true},
	"community group":    {domain.GroupTypeCommunity, false},
	"business group":     {domain.GroupTypeBusiness, false},
	"coordination group": {domain.GroupTypeCoordination, true},
	"incubator group":    {domain.GroupTypeExploratory, false},
	"exploratory group":  {domain.GroupTypeExploratory, false},
	"task force":         {domain.GroupTypeTaskForce, false},
	"other":              {domain.GroupTypeOther, true},
}

// advisoryCommittee is the only "other" group that does not publish reports
const advisoryCommittee = "ac"

func classify(discr, typ, shortname string) (classification, bool) {
	discr = strings.ToLower(strings.TrimSpace(discr))
	typ = strings.ToLower(strings.TrimSpace(typ))

	if c, ok := byDiscr[discr]; ok {
		return c, true
	}
	if discr != "" && discr != "w3cgroup" {
		return classification{}, false
	}
	c, ok := byType[typ]
	if !ok {
		return classification{}, false
	}
	if c.groupType == domain.GroupTypeOther && strings.EqualFold(shortname, advisoryCommittee) {
		c.trPublisher = false
	}
	return c, true
}

// Decorate computes identifier, group-type and tr-publisher for g and its direct members.
// Unrecognized classes become "unknown" and are logged.
func Decorate(ctx context.Context, g *domain.Group) {
	decorateOne(ctx, g)
	for _, m := range g.Members {
		if m != nil {
			decorateOne(ctx, m)
		}
	}
}

func decorateOne(ctx context.Context, g *domain.Group) {
	c, ok := classify(g.Discr, g.Type, g.Shortname)
	if !ok {
		logging.FromContext(ctx).Error().
			Int("group_id", g.ID).
			Str("discr", g.Discr).
			Str("type", g.Type).
			Msg("unmapped group class")
		c = classification{groupType: domain.GroupTypeUnknown}
	}
	g.GroupType = c.groupType
	g.TRPublisher = c.trPublisher
	g.Identifier = string(c.groupType) + "/" + g.Shortname
}
