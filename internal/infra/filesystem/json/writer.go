package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Writer handles file writing operations. Every write goes through a temporary
// file in the target directory so readers never observe a partial document.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteJSON writes data as JSON to the specified path, replacing any existing file
func (w *Writer) WriteJSON(path string, data any) error {
	content, err := marshal(data)
	if err != nil {
		return err
	}

	tmp, err := w.writeTemp(path, content)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return nil
}

// CreateJSON writes data as JSON to path unless a file already exists there.
// The hard link either claims the name or fails, so concurrent writers cannot
// both succeed.
func (w *Writer) CreateJSON(path string, data any) error {
	content, err := marshal(data)
	if err != nil {
		return err
	}

	tmp, err := w.writeTemp(path, content)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}

	return nil
}

func (w *Writer) writeTemp(path string, content []byte) (string, error) {
	if err := w.ensureDir(path); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, writeErr := f.Write(content)
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temporary file: %w", err)
	}

	return f.Name(), nil
}

// ensureDir ensures the parent directory of a file exists
func (w *Writer) ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func marshal(data any) ([]byte, error) {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(content, '\n'), nil
}
