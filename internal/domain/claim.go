package domain

import "strings"

// OwnershipClaim declares that an account, or a single repository of it, belongs by default
// to a set of groups
type OwnershipClaim struct {
	Login string     `json:"login"`
	Name  string     `json:"name,omitempty"`
	Group []GroupRef `json:"group"`
}

// AccountWide reports whether the claim covers every repository of the account
func (c OwnershipClaim) AccountWide() bool {
	return c.Name == ""
}

// Matches reports whether the claim applies to owner/name, case-insensitively
func (c OwnershipClaim) Matches(owner, name string) bool {
	if !strings.EqualFold(c.Login, owner) {
		return false
	}
	return c.AccountWide() || strings.EqualFold(c.Name, name)
}
