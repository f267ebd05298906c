package domain

import (
	"encoding/json"
	"fmt"
)

// GroupType is the canonical category of a group, used as identifier prefix
type GroupType string

const (
	GroupTypeWorking      GroupType = "wg"
	GroupTypeInterest     GroupType = "ig"
	GroupTypeCommunity    GroupType = "cg"
	GroupTypeBusiness     GroupType = "bg"
	GroupTypeTaskForce    GroupType = "tf"
	GroupTypeCoordination GroupType = "coord"
	GroupTypeExploratory  GroupType = "xg"
	GroupTypeOther        GroupType = "other"
	GroupTypeUnknown      GroupType = "unknown"
)

// Group is a governance body from the group directory.
// Upstream properties not modelled here are kept verbatim in Extra.
type Group struct {
	ID        int
	Name      string
	Shortname string
	Type      string
	Discr     string
	IsClosed  bool
	Members   []*Group

	// Derived by decoration
	Identifier  string
	GroupType   GroupType
	TRPublisher bool

	Extra map[string]json.RawMessage
}

// Decorated reports whether the derived properties have been computed
func (g *Group) Decorated() bool {
	return g.GroupType != ""
}

// HasMember reports whether id is listed among the group members
func (g *Group) HasMember(id int) bool {
	for _, m := range g.Members {
		if m != nil && m.ID == id {
			return true
		}
	}
	return false
}

// MarshalJSON writes upstream and derived properties as one object
func (g Group) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(g.Extra)+10)
	for k, v := range g.Extra {
		obj[k] = v
	}
	obj["id"] = g.ID
	if g.Name != "" {
		obj["name"] = g.Name
	}
	if g.Shortname != "" {
		obj["shortname"] = g.Shortname
	}
	if g.Type != "" {
		obj["type"] = g.Type
	}
	if g.Discr != "" {
		obj["discr"] = g.Discr
	}
	obj["is_closed"] = g.IsClosed
	if len(g.Members) > 0 {
		obj["members"] = g.Members
	}
	if g.Decorated() {
		obj["identifier"] = g.Identifier
		obj["group-type"] = g.GroupType
		obj["tr-publisher"] = g.TRPublisher
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads an upstream group record, or one previously written by MarshalJSON
func (g *Group) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = Group{}
	for k, v := range raw {
		var err error
		switch k {
		case "id":
			err = json.Unmarshal(v, &g.ID)
		case "name":
			err = json.Unmarshal(v, &g.Name)
		case "shortname":
			err = json.Unmarshal(v, &g.Shortname)
		case "type":
			err = json.Unmarshal(v, &g.Type)
		case "discr":
			err = json.Unmarshal(v, &g.Discr)
		case "is_closed":
			err = json.Unmarshal(v, &g.IsClosed)
		case "members":
			err = json.Unmarshal(v, &g.Members)
		case "identifier":
			err = json.Unmarshal(v, &g.Identifier)
		case "group-type":
			err = json.Unmarshal(v, &g.GroupType)
		case "tr-publisher":
			err = json.Unmarshal(v, &g.TRPublisher)
		default:
			if g.Extra == nil {
				g.Extra = make(map[string]json.RawMessage)
			}
			g.Extra[k] = v
		}
		if err != nil {
			return fmt.Errorf("group %s: %w", k, err)
		}
	}
	return nil
}

// GroupIdentifier is one entry of the id to identifier index
type GroupIdentifier struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
}
