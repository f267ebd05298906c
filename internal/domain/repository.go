package domain

import "strings"

// Owner is the account owning a repository
type Owner struct {
	Login string `json:"login"`
}

// Repository represents a hosted source-code repository as published in the catalog
type Repository struct {
	Name        string    `json:"name"`
	Owner       Owner     `json:"owner"`
	HomepageURL string    `json:"homepageUrl,omitempty"`
	Description string    `json:"description,omitempty"`
	IsArchived  bool      `json:"isArchived"`
	IsPrivate   bool      `json:"isPrivate"`
	Manifest    *Manifest `json:"w3cjson,omitempty"`

	// ManifestText is the raw w3c.json content as fetched, nil when the file is absent
	ManifestText *string `json:"-"`
}

// FullName returns "owner/name" with the original casing
func (r *Repository) FullName() string {
	return r.Owner.Login + "/" + r.Name
}

// Key returns the case-insensitive identity of the repository
func (r *Repository) Key() string {
	return strings.ToLower(r.FullName())
}

// Clone returns a copy that can be modified without touching the receiver
func (r *Repository) Clone() *Repository {
	c := *r
	if r.Manifest != nil {
		c.Manifest = r.Manifest.Clone()
	}
	return &c
}

// GroupRefs returns the manifest group references, if any
func (r *Repository) GroupRefs() []GroupRef {
	if r.Manifest == nil {
		return nil
	}
	return r.Manifest.Group
}

// Exposed reports whether the repository belongs to the published catalog:
// public repositories unless their manifest opts out, private ones only when it opts in.
func (r *Repository) Exposed() bool {
	if !r.IsPrivate {
		return r.Manifest == nil || r.Manifest.Exposed == nil || *r.Manifest.Exposed
	}
	return r.Manifest != nil && r.Manifest.Exposed != nil && *r.Manifest.Exposed
}
