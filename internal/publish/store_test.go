package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3c/groups-server/internal/collector"
	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/metrics"
)

type commit struct {
	ref     collector.FileRef
	message string
	content string
}

type fakeCommitter struct {
	commits []commit
	err     error
}

func (f *fakeCommitter) PutFile(_ context.Context, ref collector.FileRef, message string, content []byte) error {
	if f.err != nil {
		return f.err
	}
	f.commits = append(f.commits, commit{ref: ref, message: message, content: string(content)})
	return nil
}

func TestEncode(t *testing.T) {
	data, err := Encode(map[string]any{"b": []int{1}, "a": "<x>"})
	require.NoError(t, err)
	assert.Equal(t, "{\n \"a\": \"<x>\",\n \"b\": [\n  1\n ]\n}", string(data))
}

func TestSaveSkipsUnchanged(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := NewStore(t.TempDir(), WithMetrics(m))
	ctx := context.Background()

	value := []domain.GroupIdentifier{{ID: 34270, Identifier: "other/tag"}}
	changed, err := s.Save(ctx, Identifiers, value)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Save(ctx, Identifiers, value)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Save(ctx, Identifiers, append(value, domain.GroupIdentifier{ID: 32061, Identifier: "wg/css"}))
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ArtifactsTotal.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtifactsTotal.WithLabelValues("unchanged")))
}

func TestSaveIgnoresLayoutDifferences(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, Identifiers), []byte(`[{"identifier":"other/tag","id":34270}]`), 0o644))

	changed, err := s.Save(context.Background(), Identifiers, []domain.GroupIdentifier{{ID: 34270, Identifier: "other/tag"}})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSaveReplacesInvalidFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, Groups), []byte(`{"truncated`), 0o644))

	changed, err := s.Save(context.Background(), Groups, []string{})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := s.Read(Groups)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestSaveCommitsBeforeWriting(t *testing.T) {
	remote := &fakeCommitter{}
	s := NewStore(t.TempDir(), WithRemote(remote, "w3c", "groups", "main"))

	_, err := s.Save(context.Background(), "wg/css/group.json", map[string]int{"id": 32061})
	require.NoError(t, err)

	require.Len(t, remote.commits, 1)
	c := remote.commits[0]
	assert.Equal(t, collector.FileRef{Owner: "w3c", Repo: "groups", Branch: "main", Path: "wg/css/group.json"}, c.ref)
	assert.Equal(t, "Update from upstream wg/css/group.json", c.message)
	assert.Equal(t, "{\n \"id\": 32061\n}", c.content)
}

func TestSaveKeepsLocalFileWhenCommitFails(t *testing.T) {
	remote := &fakeCommitter{err: errors.New("conflict")}
	s := NewStore(t.TempDir(), WithRemote(remote, "w3c", "groups", "main"))

	changed, err := s.Save(context.Background(), AllRepositories, []string{"x"})
	require.Error(t, err)
	assert.False(t, changed)

	_, err = s.Read(AllRepositories)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSaveGroupRepositories(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	g := &domain.Group{ID: 3, Shortname: "i18n-sealreq", Identifier: "tf/i18n-sealreq", GroupType: domain.GroupTypeTaskForce}
	direct := []*domain.Repository{{Name: "sealreq", Owner: domain.Owner{Login: "w3c"}}}

	written, err := s.SaveGroupRepositories(context.Background(), g, direct, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	for _, name := range []string{"group.json", "repositories.json", "others.json"} {
		assert.FileExists(t, filepath.Join(dir, "tf", "i18n-sealreq", name))
	}
	others, err := s.Read("tf/i18n-sealreq/others.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(others))

	written, err = s.SaveGroupRepositories(context.Background(), g, direct, nil)
	require.NoError(t, err)
	assert.Zero(t, written)

	g.Name = "Security and Privacy Review Task Force"
	written, err = s.SaveGroupRepositories(context.Background(), g, direct, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}

func TestReadRejectsEscapingPaths(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Read("../etc/passwd")
	assert.Equal(t, apperrors.ErrCodeBadRequest, apperrors.Code(err))

	_, err = s.Read(GroupRepositories)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.Save(context.Background(), "cg/../../outside.json", []string{})
	assert.Equal(t, apperrors.ErrCodeBadRequest, apperrors.Code(err))
}

func TestSaveAcceptsDotsInsideNames(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	changed, err := s.Save(context.Background(), "cg/web..next/group.json", map[string]int{"id": 7})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.FileExists(t, filepath.Join(dir, "cg", "web..next", "group.json"))
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.Save(context.Background(), AllRepositories, []string{"a"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AllRepositories, entries[0].Name())
}
