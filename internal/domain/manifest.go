package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Manifest property names
const (
	FieldGroup     = "group"
	FieldContacts  = "contacts"
	FieldRepoType  = "repo-type"
	FieldShortname = "shortname"
	FieldPolicy    = "policy"
	FieldExposed   = "exposed"
)

// Policy is the contribution policy declared by a manifest
type Policy string

const (
	PolicyOpen       Policy = "open"
	PolicyRestricted Policy = "restricted"
)

// GroupRef references a group either by numeric id or by "category/shortname"
type GroupRef struct {
	ID         int
	Identifier string
}

// NumericRef returns a reference by upstream id
func NumericRef(id int) GroupRef {
	return GroupRef{ID: id}
}

// SymbolicRef returns a reference by identifier
func SymbolicRef(identifier string) GroupRef {
	return GroupRef{Identifier: identifier}
}

// IsNumeric reports whether the reference is an upstream id
func (r GroupRef) IsNumeric() bool {
	return r.Identifier == ""
}

func (r GroupRef) String() string {
	if r.IsNumeric() {
		return strconv.Itoa(r.ID)
	}
	return r.Identifier
}

// MarshalJSON encodes numeric references as numbers and symbolic ones as strings
func (r GroupRef) MarshalJSON() ([]byte, error) {
	if r.IsNumeric() {
		return []byte(strconv.Itoa(r.ID)), nil
	}
	return json.Marshal(r.Identifier)
}

// UnmarshalJSON accepts a number or a string. Validation is left to the manifest sanitizer.
func (r *GroupRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if n, err := strconv.Atoi(s); err == nil {
			*r = NumericRef(n)
			return nil
		}
		*r = SymbolicRef(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("group reference: %w", err)
	}
	*r = NumericRef(n)
	return nil
}

// Manifest is the sanitized form of a repository w3c.json file.
// Properties the sanitizer does not recognize are kept verbatim in Extra.
type Manifest struct {
	Group     []GroupRef
	Contacts  []string
	RepoType  []string
	Shortname []string
	Policy    Policy
	Exposed   *bool
	Extra     map[string]json.RawMessage
}

// Len returns the number of properties present in the manifest
func (m *Manifest) Len() int {
	n := len(m.Extra)
	for _, present := range []bool{
		len(m.Group) > 0,
		len(m.Contacts) > 0,
		len(m.RepoType) > 0,
		len(m.Shortname) > 0,
		m.Policy != "",
		m.Exposed != nil,
	} {
		if present {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the manifest
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		Group:     append([]GroupRef(nil), m.Group...),
		Contacts:  append([]string(nil), m.Contacts...),
		RepoType:  append([]string(nil), m.RepoType...),
		Shortname: append([]string(nil), m.Shortname...),
		Policy:    m.Policy,
	}
	if m.Exposed != nil {
		v := *m.Exposed
		c.Exposed = &v
	}
	if m.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// SetExposed sets the exposed flag
func (m *Manifest) SetExposed(v bool) {
	m.Exposed = &v
}

// MarshalJSON writes recognized and passthrough properties as one object with sorted keys
func (m Manifest) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, m.Len())
	for k, v := range m.Extra {
		obj[k] = v
	}
	if len(m.Group) > 0 {
		obj[FieldGroup] = m.Group
	}
	if len(m.Contacts) > 0 {
		obj[FieldContacts] = m.Contacts
	}
	if len(m.RepoType) > 0 {
		obj[FieldRepoType] = m.RepoType
	}
	if len(m.Shortname) > 0 {
		obj[FieldShortname] = m.Shortname
	}
	if m.Policy != "" {
		obj[FieldPolicy] = m.Policy
	}
	if m.Exposed != nil {
		obj[FieldExposed] = *m.Exposed
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads a manifest previously written by MarshalJSON.
// It does not sanitize; untrusted input goes through the manifest package.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Manifest{}
	for k, v := range raw {
		var err error
		switch k {
		case FieldGroup:
			err = json.Unmarshal(v, &m.Group)
		case FieldContacts:
			err = json.Unmarshal(v, &m.Contacts)
		case FieldRepoType:
			err = json.Unmarshal(v, &m.RepoType)
		case FieldShortname:
			err = json.Unmarshal(v, &m.Shortname)
		case FieldPolicy:
			err = json.Unmarshal(v, &m.Policy)
		case FieldExposed:
			err = json.Unmarshal(v, &m.Exposed)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[k] = v
		}
		if err != nil {
			return fmt.Errorf("manifest %s: %w", k, err)
		}
	}
	return nil
}
