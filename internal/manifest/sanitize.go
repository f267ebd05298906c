// Package manifest sanitizes the w3c.json file a repository carries at its root.
//
// The file is untrusted input: recognized properties are kept only when well formed,
// unknown properties are passed through untouched, and a file that yields nothing is
// treated as if it did not exist.
package manifest

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/w3c/groups-server/internal/domain"
)

// Sanitize parses text and returns the sanitized manifest, or nil when the text is not
// a JSON object or no property survives
func Sanitize(text string) *domain.Manifest {
	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &root); err != nil || root == nil {
		return nil
	}

	m := &domain.Manifest{}
	for prop, raw := range root {
		switch prop {
		case domain.FieldGroup:
			m.Group = NormalizeGroupRefs(decode(raw))
		case domain.FieldContacts:
			m.Contacts = StringList(decode(raw))
		case domain.FieldRepoType:
			m.RepoType = StringList(decode(raw))
		case domain.FieldShortname:
			m.Shortname = StringList(decode(raw))
		case domain.FieldPolicy:
			switch p := domain.Policy(stringValue(decode(raw))); p {
			case domain.PolicyOpen, domain.PolicyRestricted:
				m.Policy = p
			}
		case domain.FieldExposed:
			if b, ok := ToBoolean(decode(raw)); ok {
				m.SetExposed(b)
			}
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[prop] = raw
		}
	}

	if m.Len() == 0 {
		return nil
	}
	return m
}

// decode turns a raw JSON value into a generic value keeping numbers as json.Number
func decode(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// StringList accepts a string or a list of strings and keeps the non-empty ones,
// without duplicates, in first-seen order
func StringList(v any) []string {
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}

	switch list := v.(type) {
	case string:
		add(list)
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range list {
			add(s)
		}
	}
	return out
}

// ToBoolean coerces true/"true"/"1"/1 and false/"false"/"0"/0. Anything else is rejected.
func ToBoolean(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	case json.Number:
		f, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return false, false
		}
		return numericBoolean(f)
	case float64:
		return numericBoolean(b)
	case int:
		return numericBoolean(float64(b))
	}
	return false, false
}

func numericBoolean(f float64) (bool, bool) {
	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	}
	return false, false
}
