package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/compose-network/deploykit/internal/infra/filesystem"
	"github.com/compose-network/deploykit/internal/infra/filesystem/json"
	"github.com/compose-network/deploykit/internal/logger"
)

const (
	recordExt    = ".json"
	lockFile     = ".lock"
	lockInterval = 50 * time.Millisecond
)

// File keeps one JSON document per record under <dir>/<network>/<node>.json.
// Writers of the same network are serialized with a file lock so several
// processes can share a directory.
type File struct {
	dir    string
	reader filesystem.Reader
	writer filesystem.Writer
	logger *slog.Logger
}

func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("registry directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	return &File{
		dir:    dir,
		reader: json.NewReader(),
		writer: json.NewWriter(),
		logger: logger.Named("file_registry"),
	}, nil
}

func (f *File) Lookup(_ context.Context, network, node string) (Record, bool, error) {
	path, err := f.recordPath(network, node)
	if err != nil {
		return Record{}, false, newError("lookup", network, node, err)
	}

	var rec Record
	if err := f.reader.ReadJSON(path, &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, newError("lookup", network, node, errors.Join(ErrStorage, err))
	}

	return rec, true, nil
}

func (f *File) Record(ctx context.Context, rec Record, force bool) error {
	if err := rec.validate(); err != nil {
		return err
	}
	path, err := f.recordPath(rec.Network, rec.Node)
	if err != nil {
		return newError("record", rec.Network, rec.Node, err)
	}

	unlock, err := f.lock(ctx, rec.Network)
	if err != nil {
		return newError("record", rec.Network, rec.Node, err)
	}
	defer unlock()

	if force {
		err = f.writer.WriteJSON(path, rec)
	} else {
		err = f.writer.CreateJSON(path, rec)
	}
	switch {
	case errors.Is(err, fs.ErrExist):
		return newError("record", rec.Network, rec.Node, ErrDuplicateRecord)
	case err != nil:
		return newError("record", rec.Network, rec.Node, errors.Join(ErrStorage, err))
	}

	f.logger.With("network", rec.Network, "node", rec.Node, "path", path).Debug("record written")

	return nil
}

func (f *File) Forget(ctx context.Context, network, node string) error {
	path, err := f.recordPath(network, node)
	if err != nil {
		return newError("forget", network, node, err)
	}

	unlock, err := f.lock(ctx, network)
	if err != nil {
		return newError("forget", network, node, err)
	}
	defer unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError("forget", network, node, ErrNotFound)
		}
		return newError("forget", network, node, errors.Join(ErrStorage, err))
	}

	return nil
}

func (f *File) List(ctx context.Context, network string) ([]Record, error) {
	if err := validateSegment(network); err != nil {
		return nil, newError("list", network, "", err)
	}

	entries, err := os.ReadDir(filepath.Join(f.dir, network))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, newError("list", network, "", errors.Join(ErrStorage, err))
	}

	var out []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}

		rec, ok, err := f.Lookup(ctx, network, strings.TrimSuffix(name, recordExt))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Node, b.Node) })

	return out, nil
}

func (f *File) Close() error {
	return nil
}

func (f *File) lock(ctx context.Context, network string) (func(), error) {
	dir := filepath.Join(f.dir, network)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Join(ErrStorage, fmt.Errorf("failed to create network directory: %w", err))
	}

	fl := flock.New(filepath.Join(dir, lockFile))
	locked, err := fl.TryLockContext(ctx, lockInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to lock '%s': %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock '%s'", dir)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			f.logger.With("dir", dir, "err", err).Warn("failed to release registry lock")
		}
	}, nil
}

func (f *File) recordPath(network, node string) (string, error) {
	if err := validateSegment(network); err != nil {
		return "", err
	}
	if err := validateSegment(node); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, network, node+recordExt), nil
}

// validateSegment rejects names that cannot be used as a single path element.
func validateSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q cannot be stored as a file name", ErrInvalidRecord, s)
	}
	return nil
}
