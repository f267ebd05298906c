package domain

import "strings"

// Service is a tool or resource a group declares in the directory, such as its repositories.
// Listings carry Href and Title; the full record adds Type and Link.
type Service struct {
	Href      string `json:"href,omitempty"`
	Title     string `json:"title,omitempty"`
	Type      string `json:"type,omitempty"`
	Link      string `json:"link,omitempty"`
	ShortDesc string `json:"shortdesc,omitempty"`
}

// VersionControl reports whether the service looks like a version-control service
func (s Service) VersionControl() bool {
	for _, v := range []string{s.Type, s.Title} {
		v = strings.ToLower(v)
		if strings.Contains(v, "repository") || strings.Contains(v, "github") || strings.Contains(v, "version control") {
			return true
		}
	}
	return false
}
