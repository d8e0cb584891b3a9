package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DeafMist/fomc-tracker/internal/models"
)

// ErrNotFound is returned when an artifact has not been written yet.
var ErrNotFound = errors.New("artifact not found")

// Header is the exact column layout of the dataset file.
var Header = []string{"Date", "Release Date", "Type", "Text"}

// PersistenceError wraps any I/O failure on an artifact.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store reads and writes the dataset and watermark files.
type Store struct {
	DatasetPath   string
	WatermarkPath string
}

// New instantiates a Store over the two artifact paths.
func New(datasetPath, watermarkPath string) *Store {
	return &Store{DatasetPath: datasetPath, WatermarkPath: watermarkPath}
}

// ReadDataset returns the persisted rows as raw records, unvalidated.
func (s *Store) ReadDataset() ([]models.RawRecord, error) {
	f, err := os.Open(s.DatasetPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "open dataset", Path: s.DatasetPath, Err: err}
	}
	defer f.Close()

	return decodeDataset(f, s.DatasetPath)
}

func decodeDataset(r io.Reader, path string) ([]models.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	head, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []models.RawRecord{}, nil
		}
		return nil, &PersistenceError{Op: "read dataset header", Path: path, Err: err}
	}
	head[0] = strings.TrimPrefix(head[0], "\ufeff")
	for i, col := range Header {
		if head[i] != col {
			return nil, &PersistenceError{
				Op:   "read dataset header",
				Path: path,
				Err:  fmt.Errorf("column %d is %q, want %q", i, head[i], col),
			}
		}
	}

	var out []models.RawRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &PersistenceError{Op: "read dataset", Path: path, Err: err}
		}
		out = append(out, models.RawRecord{
			Date:        row[0],
			ReleaseDate: row[1],
			Type:        row[2],
			Text:        row[3],
		})
	}
	return out, nil
}

// WriteDataset atomically replaces the dataset file.
func (s *Store) WriteDataset(rows []models.Communication) error {
	data, err := encodeDataset(rows)
	if err != nil {
		return &PersistenceError{Op: "encode dataset", Path: s.DatasetPath, Err: err}
	}
	return WriteAtomic(s.DatasetPath, data)
}

func encodeDataset(rows []models.Communication) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		raw := row.Raw()
		if err := w.Write([]string{raw.Date, raw.ReleaseDate, raw.Type, raw.Text}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadWatermark returns the latest ingested release date.
func (s *Store) ReadWatermark() (time.Time, error) {
	data, err := os.ReadFile(s.WatermarkPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, &PersistenceError{Op: "read watermark", Path: s.WatermarkPath, Err: err}
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, ErrNotFound
	}
	ts, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, &PersistenceError{Op: "parse watermark", Path: s.WatermarkPath, Err: err}
	}
	return ts, nil
}

// WriteWatermark atomically replaces the watermark file.
func (s *Store) WriteWatermark(ts time.Time) error {
	return WriteAtomic(s.WatermarkPath, []byte(models.FormatDate(ts)+"\n"))
}

// Commit writes the dataset and, when watermark is non-nil, the watermark.
// Both files are staged before either is renamed into place, so a failure
// while staging leaves the previous artifacts untouched. The renames are not
// atomic as a pair: the dataset goes first, so a failed watermark rename
// leaves the new dataset next to the old watermark.
func (s *Store) Commit(rows []models.Communication, watermark *time.Time) error {
	data, err := encodeDataset(rows)
	if err != nil {
		return &PersistenceError{Op: "encode dataset", Path: s.DatasetPath, Err: err}
	}

	staged := make([]stagedFile, 0, 2)
	cleanup := func() {
		for _, f := range staged {
			_ = os.Remove(f.tmp)
		}
	}

	ds, err := stage(s.DatasetPath, data)
	if err != nil {
		return err
	}
	staged = append(staged, ds)

	if watermark != nil {
		wm, err := stage(s.WatermarkPath, []byte(models.FormatDate(*watermark)+"\n"))
		if err != nil {
			cleanup()
			return err
		}
		staged = append(staged, wm)
	}

	for i, f := range staged {
		if err := os.Rename(f.tmp, f.path); err != nil {
			for _, rest := range staged[i:] {
				_ = os.Remove(rest.tmp)
			}
			return &PersistenceError{Op: "rename", Path: f.path, Err: err}
		}
	}
	return nil
}

type stagedFile struct {
	tmp  string
	path string
}

func stage(path string, data []byte) (stagedFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stagedFile{}, &PersistenceError{Op: "create dir", Path: dir, Err: err}
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return stagedFile{}, &PersistenceError{Op: "create temp file", Path: path, Err: err}
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return stagedFile{}, &PersistenceError{Op: "write temp file", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return stagedFile{}, &PersistenceError{Op: "sync temp file", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return stagedFile{}, &PersistenceError{Op: "close temp file", Path: path, Err: err}
	}
	return stagedFile{tmp: tmp, path: path}, nil
}

// WriteAtomic replaces path with data via a temp file and rename.
func WriteAtomic(path string, data []byte) error {
	f, err := stage(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(f.tmp, f.path); err != nil {
		os.Remove(f.tmp)
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
