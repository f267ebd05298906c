package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3c/groups-server/internal/domain"
)

func TestParseJSON(t *testing.T) {
	s, err := Parse([]byte(`{
  "refreshCycle": 6,
  "owners": [
    {"login": "w3c", "group": []},
    {"login": "WICG", "group": [80485, "cg/wicg", 1, "bad"]},
    {"login": "w3ctag", "name": "design-reviews", "group": ["other/tag"]},
    {"login": ""},
    {"group": [34270]},
    "nope"
  ]
}`), Default(3))
	require.NoError(t, err)

	assert.Equal(t, 6, s.RefreshCycle)
	assert.Equal(t, []domain.OwnershipClaim{
		{Login: "w3c", Group: []domain.GroupRef{}},
		{Login: "WICG", Group: []domain.GroupRef{domain.NumericRef(80485), domain.SymbolicRef("cg/wicg")}},
		{Login: "w3ctag", Name: "design-reviews", Group: []domain.GroupRef{domain.SymbolicRef("other/tag")}},
	}, s.Owners)
}

func TestParseYAML(t *testing.T) {
	s, err := Parse([]byte(`
refreshCycle: 12
owners:
  - login: w3c
    group: [wg/css, 32061]
`), Default(3))
	require.NoError(t, err)

	assert.Equal(t, 12, s.RefreshCycle)
	require.Len(t, s.Owners, 1)
	assert.Equal(t, []domain.GroupRef{domain.SymbolicRef("wg/css"), domain.NumericRef(32061)}, s.Owners[0].Group)
}

func TestParseKeepsBaseOnOutOfRangeCycle(t *testing.T) {
	for _, doc := range []string{`{"refreshCycle": 0}`, `{"refreshCycle": 25}`, `{"refreshCycle": "6"}`, `{}`} {
		s, err := Parse([]byte(doc), Default(3))
		require.NoError(t, err, doc)
		assert.Equal(t, 3, s.RefreshCycle, doc)
		assert.Equal(t, Default(3).Owners, s.Owners, doc)
	}
}

func TestLoaderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refreshCycle: 2\nowners:\n  - login: whatwg\n"), 0o644))

	l := NewLoader(path, "http://unused.invalid", Default(3), nil)
	s, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.RefreshCycle)
	assert.Equal(t, "whatwg", s.Owners[0].Login)
	assert.Equal(t, s, l.Current())
}

func TestLoaderKeepsPreviousOnFailure(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"refreshCycle": 4, "owners": [{"login": "w3c", "group": [34270]}]}`))
	}))
	defer srv.Close()

	l := NewLoader("", srv.URL, Default(3), srv.Client())
	first, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.RefreshCycle)

	status = http.StatusInternalServerError
	second, err := l.Load(context.Background())
	assert.Error(t, err)
	assert.Equal(t, first, second)
}

func TestCurrentIsACopy(t *testing.T) {
	l := NewLoader("", "", Settings{RefreshCycle: 3, Owners: []domain.OwnershipClaim{{Login: "w3c", Group: []domain.GroupRef{domain.NumericRef(2)}}}}, nil)
	s := l.Current()
	s.Owners[0].Group[0] = domain.NumericRef(3)
	assert.Equal(t, domain.NumericRef(2), l.Current().Owners[0].Group[0])
}
