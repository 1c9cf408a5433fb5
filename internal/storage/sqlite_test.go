package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/attempt"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "attempts.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSaveLoadUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	a := attempt.New("https://jobs.example.com/42", "/tmp/cv.pdf")
	a.Begin(0, a.JobURL, "abc")
	require.NoError(t, s.Save(ctx, a))

	a.Complete(0, "https://jobs.example.com/42?page=2")
	a.Finish(attempt.Completed, nil)
	require.NoError(t, s.Save(ctx, a))

	got, err := s.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.Completed, got.Status)
	assert.Equal(t, "https://jobs.example.com/42?page=2", got.Location)
	require.Len(t, got.Steps, 1)
	assert.True(t, got.Steps[0].Completed)
	assert.Equal(t, "/tmp/cv.pdf", got.ResumePath)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLoadMissing(t *testing.T) {
	s, _ := openTemp(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, attempt.ErrNotFound)
}

func TestListNewestFirstAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	older := attempt.New("https://jobs.example.com/1", "")
	older.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	newer := attempt.New("https://jobs.example.com/2", "")
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
