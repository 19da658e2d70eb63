package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/compose-network/deploykit/internal/logger"
)

const (
	combinedFile     = "contracts.json"
	inputSuffix      = ".input.json"
	debugSuffix      = ".dbg.json"
	metadataSuffix   = ".metadata.json"
	artifactFileType = ".json"
)

// Store resolves artifact names against a directory of compiled output. It
// understands a combined contracts.json ({"Name": {"abi": .., "bytecode": ..}}),
// hardhat's artifacts/ tree and foundry's out/ tree. A standard-json compiler
// input for verification is picked up from a sibling <Name>.input.json.
type Store struct {
	dir    string
	logger *slog.Logger

	indexOnce sync.Once
	index     map[string]string
	combined  map[string]combinedEntry
	indexErr  error

	mu     sync.Mutex
	loaded map[string]*Artifact
}

type combinedEntry struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode json.RawMessage `json:"bytecode"`
}

func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: logger.Named("artifact_store"),
		loaded: make(map[string]*Artifact),
	}
}

// Load returns the artifact named name. Results are cached.
func (s *Store) Load(name string) (*Artifact, error) {
	s.mu.Lock()
	if art, ok := s.loaded[name]; ok {
		s.mu.Unlock()
		return art, nil
	}
	s.mu.Unlock()

	s.indexOnce.Do(func() { s.indexErr = s.buildIndex() })
	if s.indexErr != nil {
		return nil, s.indexErr
	}

	art, err := s.load(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded[name] = art

	return art, nil
}

// Names lists every artifact the store can resolve.
func (s *Store) Names() ([]string, error) {
	s.indexOnce.Do(func() { s.indexErr = s.buildIndex() })
	if s.indexErr != nil {
		return nil, s.indexErr
	}

	names := make([]string, 0, len(s.index)+len(s.combined))
	for name := range s.combined {
		names = append(names, name)
	}
	for name := range s.index {
		if _, dup := s.combined[name]; !dup {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Store) load(name string) (*Artifact, error) {
	if entry, ok := s.combined[name]; ok {
		bytecode, err := decodeBytecode(entry.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrInvalidArtifact, name, err)
		}
		art, err := newArtifact(name, entry.ABI, bytecode)
		if err != nil {
			return nil, err
		}
		s.attachInput(art, filepath.Join(s.dir, name+inputSuffix))
		return art, nil
	}

	path, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in '%s'", ErrArtifactNotFound, name, s.dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact '%s': %w", path, err)
	}

	art, err := parse(name, data)
	if err != nil {
		return nil, err
	}
	s.attachInput(art, strings.TrimSuffix(path, artifactFileType)+inputSuffix)

	s.logger.With("artifact", name, "path", path).Debug("artifact loaded")

	return art, nil
}

func (s *Store) attachInput(art *Artifact, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if !json.Valid(data) {
		s.logger.With("path", path).Warn("ignoring malformed standard-json input")
		return
	}
	art.StandardInput = data
}

func (s *Store) buildIndex() error {
	s.index = make(map[string]string)
	s.combined = make(map[string]combinedEntry)

	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("failed to open artifacts directory '%s': %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifacts path '%s' is not a directory", s.dir)
	}

	if data, err := os.ReadFile(filepath.Join(s.dir, combinedFile)); err == nil {
		if err := json.Unmarshal(data, &s.combined); err != nil {
			return fmt.Errorf("failed to parse '%s': %w", combinedFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read '%s': %w", combinedFile, err)
	}

	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir && d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}

		base := d.Name()
		if base == combinedFile || filepath.Ext(base) != artifactFileType {
			return nil
		}
		for _, suffix := range []string{inputSuffix, debugSuffix, metadataSuffix} {
			if strings.HasSuffix(base, suffix) {
				return nil
			}
		}

		name := strings.TrimSuffix(base, artifactFileType)
		if existing, dup := s.index[name]; dup {
			s.logger.With("artifact", name, "kept", existing, "ignored", path).Warn("duplicate artifact name")
			return nil
		}
		s.index[name] = path

		return nil
	})
}
