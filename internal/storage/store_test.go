package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/fomc-tracker/internal/models"
	"github.com/DeafMist/fomc-tracker/internal/storage"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	return storage.New(filepath.Join(dir, "communications.csv"), filepath.Join(dir, "watermark.txt"))
}

func TestReadMissingArtifacts(t *testing.T) {
	s := newStore(t)

	_, err := s.ReadDataset()
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.ReadWatermark()
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDatasetRoundTripKeepsMultilineText(t *testing.T) {
	s := newStore(t)
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	rows := []models.Communication{
		{Date: jan31, ReleaseDate: time.Date(2024, 2, 21, 0, 0, 0, 0, time.UTC), Type: models.TypeMinute, Text: "Line one, \"quoted\".\n\nLine two."},
		{Date: jan31, ReleaseDate: jan31, Type: models.TypeScheduledMeeting},
	}
	require.NoError(t, s.WriteDataset(rows))

	data, err := os.ReadFile(s.DatasetPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "Date,Release Date,Type,Text\n")
	require.Contains(t, string(data), "2024-01-31,2024-01-31,Scheduled Meeting,\n")

	got, err := s.ReadDataset()
	require.NoError(t, err)
	require.Equal(t, []models.RawRecord{
		{Date: "2024-01-31", ReleaseDate: "2024-02-21", Type: "Minute", Text: "Line one, \"quoted\".\n\nLine two."},
		{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Scheduled Meeting", Text: ""},
	}, got)
}

func TestReadDatasetRejectsWrongHeader(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.DatasetPath, []byte("date,release,type,text\n"), 0o644))

	_, err := s.ReadDataset()
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, s.DatasetPath, perr.Path)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := newStore(t)
	ts := time.Date(2024, 2, 21, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteWatermark(ts))
	got, err := s.ReadWatermark()
	require.NoError(t, err)
	require.Equal(t, ts, got)

	require.NoError(t, os.WriteFile(s.WatermarkPath, []byte("garbage"), 0o644))
	_, err = s.ReadWatermark()
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
}

func TestCommitWithoutWatermarkLeavesItUntouched(t *testing.T) {
	s := newStore(t)
	old := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteWatermark(old))

	require.NoError(t, s.Commit(nil, nil))

	got, err := s.ReadWatermark()
	require.NoError(t, err)
	require.Equal(t, old, got)

	rows, err := s.ReadDataset()
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCommitFailureLeavesArtifactsUntouched(t *testing.T) {
	dir := t.TempDir()
	s := storage.New(filepath.Join(dir, "communications.csv"), filepath.Join(dir, "watermark.txt"))

	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	before := []models.Communication{{Date: jan31, ReleaseDate: jan31, Type: models.TypeScheduledMeeting}}
	require.NoError(t, s.Commit(before, &jan31))
	original, err := os.ReadFile(s.DatasetPath)
	require.NoError(t, err)

	// The watermark's directory is a regular file, so staging it fails.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	s.WatermarkPath = filepath.Join(blocker, "watermark.txt")

	after := []models.Communication{{Date: jan31, ReleaseDate: jan31, Type: models.TypeStatement, Text: "new"}}
	err = s.Commit(after, &jan31)
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))

	current, err := os.ReadFile(s.DatasetPath)
	require.NoError(t, err)
	require.Equal(t, original, current)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp", "temp file left behind")
	}
}

func TestCommitWatermarkRenameFailureKeepsNewDataset(t *testing.T) {
	dir := t.TempDir()
	s := storage.New(filepath.Join(dir, "communications.csv"), filepath.Join(dir, "watermark"))

	// A directory cannot be replaced by a regular file.
	require.NoError(t, os.MkdirAll(filepath.Join(s.WatermarkPath, "occupied"), 0o755))

	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	rows := []models.Communication{{Date: jan31, ReleaseDate: jan31, Type: models.TypeStatement, Text: "new"}}
	err := s.Commit(rows, &jan31)
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, s.WatermarkPath, perr.Path)

	got, err := s.ReadDataset()
	require.NoError(t, err)
	require.Equal(t, []models.RawRecord{{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Statement", Text: "new"}}, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp", "temp file left behind")
	}
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	lock, err := storage.Lock(path)
	require.NoError(t, err)

	_, err = storage.Lock(path)
	require.ErrorIs(t, err, storage.ErrLocked)

	require.NoError(t, lock.Release())

	again, err := storage.Lock(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
