package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/shrtyk/raft-fsm/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAndComplete(t *testing.T, s *DefaultStorage, index int64, body string) {
	t.Helper()
	snap, err := s.Create(index)
	require.NoError(t, err)

	w, err := snap.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, snap.Complete())
}

func readAll(t *testing.T, s *DefaultStorage) string {
	t.Helper()
	cur, err := s.Current()
	require.NoError(t, err)
	require.NotNil(t, cur)

	r, err := cur.Reader()
	require.NoError(t, err)
	defer r.Close()

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestNewDefaultStorage(t *testing.T) {
	dir := t.TempDir()
	_, log := logger.NewTestLogger()
	s, err := NewDefaultStorage(dir, log)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.DirExists(t, filepath.Join(dir, versionsDirName))
}

func TestCurrentIsNilBeforeAnyCompletion(t *testing.T) {
	dir := t.TempDir()
	_, log := logger.NewTestLogger()
	s, err := NewDefaultStorage(dir, log)
	require.NoError(t, err)

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestCreateWithoutCompleteDoesNotBecomeCurrent(t *testing.T) {
	dir := t.TempDir()
	_, log := logger.NewTestLogger()
	s, err := NewDefaultStorage(dir, log)
	require.NoError(t, err)

	snap, err := s.Create(1)
	require.NoError(t, err)
	w, err := snap.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestCompleteMakesSnapshotCurrent(t *testing.T) {
	dir := t.TempDir()
	_, log := logger.NewTestLogger()
	s, err := NewDefaultStorage(dir, log)
	require.NoError(t, err)

	writeAndComplete(t, s, 1, "first")
	assert.Equal(t, "first", readAll(t, s))

	writeAndComplete(t, s, 2, "second")
	assert.Equal(t, "second", readAll(t, s))
}

func TestCompleteTwiceFails(t *testing.T) {
	dir := t.TempDir()
	_, log := logger.NewTestLogger()
	s, err := NewDefaultStorage(dir, log)
	require.NoError(t, err)

	snap, err := s.Create(1)
	require.NoError(t, err)
	w, err := snap.Writer()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, snap.Complete())

	assert.Error(t, snap.Complete())
}

func TestCleanupKeepsOnlyRecentVersions(t *testing.T) {
	dir := t.TempDir()
	_, log := logger.NewTestLogger()
	s, err := NewDefaultStorage(dir, log)
	require.NoError(t, err)

	for i := range int64(versionsToKeep + 2) {
		writeAndComplete(t, s, i+1, "state")
	}

	files, err := os.ReadDir(filepath.Join(dir, versionsDirName))
	require.NoError(t, err)
	assert.Len(t, files, versionsToKeep)

	cur, err := s.Current()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(versionsToKeep+2), cur.Index())
}
