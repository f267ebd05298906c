package catalog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/paging"
)

type fakeSource struct {
	accounts map[string][]*domain.Repository
	failing  map[string]bool
	repos    map[string]*domain.Repository
	gets     []string
}

func (f *fakeSource) ListRepositories(login string) *paging.Iterator[*domain.Repository] {
	login = strings.ToLower(login)
	return paging.Cursor(func(_ context.Context, cursor *string) ([]*domain.Repository, paging.PageInfo, error) {
		if f.failing[login] {
			if cursor == nil {
				return f.accounts[login], paging.PageInfo{EndCursor: "1", HasNextPage: true}, nil
			}
			return nil, paging.PageInfo{}, apperrors.NewUpstreamError("listing "+login, fmt.Errorf("boom"))
		}
		return f.accounts[login], paging.PageInfo{}, nil
	}, paging.RetryPolicy{})
}

func (f *fakeSource) GetRepository(_ context.Context, owner, name string) (*domain.Repository, error) {
	key := strings.ToLower(owner + "/" + name)
	f.gets = append(f.gets, key)
	r, ok := f.repos[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("repository " + key)
	}
	return r, nil
}

func repo(owner, name string, private, archived bool, manifest string) *domain.Repository {
	r := &domain.Repository{Name: name, Owner: domain.Owner{Login: owner}, IsPrivate: private, IsArchived: archived}
	if manifest != "" {
		r.ManifestText = &manifest
	}
	return r
}

func names(repos []*domain.Repository) []string {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		out = append(out, r.FullName())
	}
	return out
}

func claim(login, name string, groups ...domain.GroupRef) domain.OwnershipClaim {
	return domain.OwnershipClaim{Login: login, Name: name, Group: groups}
}

func TestBuildExposure(t *testing.T) {
	for _, private := range []bool{false, true} {
		for _, archived := range []bool{false, true} {
			for _, exposed := range []string{"", "true", "false"} {
				for _, withManifest := range []bool{false, true} {
					if !withManifest && exposed != "" {
						continue
					}
					text := ""
					if withManifest {
						text = `{"group": 45211`
						if exposed != "" {
							text += `, "exposed": ` + exposed
						}
						text += `}`
					}
					name := fmt.Sprintf("private=%v/archived=%v/manifest=%v/exposed=%q", private, archived, withManifest, exposed)
					t.Run(name, func(t *testing.T) {
						src := &fakeSource{accounts: map[string][]*domain.Repository{
							"w3c": {repo("w3c", "r", private, archived, text)},
						}}
						got := NewBuilder(src).Build(context.Background(), []domain.OwnershipClaim{claim("w3c", "")})

						want := !private
						if withManifest {
							want = !(private || archived)
						}
						if exposed == "true" {
							want = true
						} else if exposed == "false" {
							want = false
						}
						if want {
							require.Len(t, got, 1)
						} else {
							assert.Empty(t, got)
						}
					})
				}
			}
		}
	}
}

func TestBuildPublicWithoutManifest(t *testing.T) {
	src := &fakeSource{accounts: map[string][]*domain.Repository{
		"w3c": {repo("w3c", "public", false, false, ""), repo("w3c", "secret", true, false, "")},
	}}
	got := NewBuilder(src).Build(context.Background(), []domain.OwnershipClaim{claim("w3c", "")})

	require.Len(t, got, 1)
	assert.Equal(t, "w3c/public", got[0].FullName())
	assert.Nil(t, got[0].Manifest)
}

func TestBuildDefaultGroups(t *testing.T) {
	src := &fakeSource{
		accounts: map[string][]*domain.Repository{
			"w3c": {
				repo("w3c", "plain", false, false, ""),
				repo("w3c", "claimed", false, false, ""),
				repo("w3c", "own", false, false, `{"group": "wg/css"}`),
				repo("w3c", "old", false, true, ""),
			},
		},
	}
	claims := []domain.OwnershipClaim{
		claim("w3c", "", domain.NumericRef(34270)),
		claim("W3C", "Claimed", domain.SymbolicRef("wg/webperf"), domain.SymbolicRef("wg/webperf")),
	}
	got := NewBuilder(src).Build(context.Background(), claims)

	byName := make(map[string]*domain.Repository)
	for _, r := range got {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "plain")
	assert.Equal(t, []domain.GroupRef{domain.NumericRef(34270)}, byName["plain"].Manifest.Group)
	require.NotNil(t, byName["plain"].Manifest.Exposed)
	assert.True(t, *byName["plain"].Manifest.Exposed)

	assert.Equal(t, []domain.GroupRef{domain.SymbolicRef("wg/webperf")}, byName["claimed"].Manifest.Group)
	assert.Equal(t, []domain.GroupRef{domain.SymbolicRef("wg/css")}, byName["own"].Manifest.Group)

	// archived with a default manifest gets exposed=false and is dropped
	assert.NotContains(t, byName, "old")
	// the single-repository claim is covered by the account listing
	assert.Empty(t, src.gets)
}

func TestBuildSingleRepositoryClaims(t *testing.T) {
	src := &fakeSource{
		repos: map[string]*domain.Repository{
			"whatwg/html": repo("whatwg", "html", false, false, ""),
		},
	}
	claims := []domain.OwnershipClaim{
		claim("whatwg", "html", domain.SymbolicRef("wg/html")),
		claim("WHATWG", "HTML"),
		claim("whatwg", "missing"),
	}
	got := NewBuilder(src).Build(context.Background(), claims)

	require.Len(t, got, 1)
	assert.Equal(t, []domain.GroupRef{domain.SymbolicRef("wg/html")}, got[0].Manifest.Group)
	assert.Equal(t, []string{"whatwg/html", "whatwg/missing"}, src.gets)
}

func TestBuildDedupesAndSorts(t *testing.T) {
	src := &fakeSource{accounts: map[string][]*domain.Repository{
		"w3c":      {repo("w3c", "b", false, false, ""), repo("W3C", "A", false, false, ""), repo("w3c", "b", false, false, "")},
		"webaudio": {repo("WebAudio", "web-audio-api", false, false, "")},
	}}
	claims := []domain.OwnershipClaim{claim("webaudio", ""), claim("w3c", ""), claim("W3C", "")}
	got := NewBuilder(src).Build(context.Background(), claims)

	assert.Equal(t, []string{"W3C/A", "w3c/b", "WebAudio/web-audio-api"}, names(got))
}

func TestBuildSkipsFailedAccount(t *testing.T) {
	src := &fakeSource{
		accounts: map[string][]*domain.Repository{
			"broken": {repo("broken", "first-page", false, false, "")},
			"w3c":    {repo("w3c", "ok", false, false, "")},
		},
		failing: map[string]bool{"broken": true},
	}
	got := NewBuilder(src).Build(context.Background(), []domain.OwnershipClaim{claim("broken", ""), claim("w3c", "")})

	assert.Equal(t, []string{"broken/first-page", "w3c/ok"}, names(got))
}

func TestDefaultGroupsFallsBackToAccount(t *testing.T) {
	r := repo("w3c", "x", false, false, "")
	accountWide := []domain.OwnershipClaim{claim("w3c", "", domain.NumericRef(1000))}
	singles := []domain.OwnershipClaim{claim("w3c", "other", domain.NumericRef(2000))}

	assert.Equal(t, []domain.GroupRef{domain.NumericRef(1000)}, DefaultGroups(r, accountWide, singles))
	assert.Empty(t, DefaultGroups(repo("elsewhere", "x", false, false, ""), accountWide, singles))
}
