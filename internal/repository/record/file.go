package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultFilename is the record filename inside a unit directory.
const DefaultFilename = ".last_modified"

const filePermissions = 0o644

var (
	// ErrNotFound is returned when the record file does not exist yet.
	ErrNotFound = errors.New("record not found")
	// ErrInvalid is returned when the record content is not a number.
	ErrInvalid = errors.New("invalid record")
)

// Repository defines persistence operations for a staleness record.
type Repository interface {
	Load(ctx context.Context) (float64, error)
	Save(ctx context.Context, timestamp float64) error
}

// FileRepository stores the record as text at a fixed path.
type FileRepository struct {
	// path is the filesystem location of the record file.
	path string
}

// NewFileRepository creates a repository that reads/writes the record at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// ForUnit returns the repository for the record stored in unitDir.
func ForUnit(unitDir string) *FileRepository {
	return NewFileRepository(filepath.Join(unitDir, DefaultFilename))
}

// Path returns the record file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the record from disk.
func (r *FileRepository) Load(_ context.Context) (float64, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}

		return 0, fmt.Errorf("read record file: %w", err)
	}

	text := strings.TrimSpace(string(contents))

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, text)
	}

	return value, nil
}

// Save writes the record to disk.
func (r *FileRepository) Save(_ context.Context, timestamp float64) error {
	if err := os.WriteFile(r.path, []byte(Format(timestamp)), filePermissions); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}

	return nil
}

// Seconds converts t to fractional seconds since the Unix epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Format renders a timestamp so that ParseFloat yields the same value back.
func Format(timestamp float64) string {
	return strconv.FormatFloat(timestamp, 'f', -1, 64)
}
