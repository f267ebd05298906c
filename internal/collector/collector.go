package collector

import (
	"context"

	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/paging"
)

// ManifestPath is where a repository keeps its manifest
const ManifestPath = "w3c.json"

// Collector defines the interface for reading from and writing to the hosting API
type Collector interface {
	// ListRepositories iterates over all repositories of an organization or user account,
	// with the raw manifest text attached when the repository has one
	ListRepositories(login string) *paging.Iterator[*domain.Repository]

	// GetRepository retrieves one repository and its raw manifest text
	GetRepository(ctx context.Context, owner, name string) (*domain.Repository, error)

	// GetFile retrieves a file; a missing file is a NOT_FOUND error
	GetFile(ctx context.Context, ref FileRef) (*File, error)

	// PutFile creates the file, or updates it against its current SHA
	PutFile(ctx context.Context, ref FileRef, message string, content []byte) error
}

// FileRef locates a file in a repository branch
type FileRef struct {
	Owner  string
	Repo   string
	Branch string
	Path   string
}

func (r FileRef) String() string {
	return r.Owner + "/" + r.Repo + "@" + r.Branch + ":" + r.Path
}

// File is the content of a file and the SHA it was read at
type File struct {
	SHA     string
	Content []byte
}
