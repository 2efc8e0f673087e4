package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	pkgerrors "github.com/sorrycc/elasticdl/pkg/errors"
	"github.com/sorrycc/elasticdl/pkg/model"
)

// Store persists model snapshots as version-numbered CBOR files and
// answers "is a checkpoint due at this version" for the master's
// post-update hook.
type Store struct {
	dir     string
	steps   int64
	keepMax int
	mu      sync.RWMutex
}

// NewStore creates the checkpoint directory if needed. steps is the
// version interval between checkpoints (0 disables the due check);
// keepMax bounds the number of checkpoint files kept (0 keeps all).
func NewStore(dir string, steps int64, keepMax int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Store{dir: dir, steps: steps, keepMax: keepMax}, nil
}

// NeedsCheckpoint reports whether a checkpoint is due at version.
func (s *Store) NeedsCheckpoint(version int64) bool {
	return s.steps > 0 && version%s.steps == 0
}

func (s *Store) Save(snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(s.path(snap.Version), data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	return s.prune()
}

func (s *Store) Load(version int64) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(version))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Snapshot{}, fmt.Errorf("%w: checkpoint for version %d", pkgerrors.ErrNotFound, version)
		}

		return model.Snapshot{}, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var snap model.Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return snap, nil
}

// LatestVersion returns the highest checkpointed version.
func (s *Store) LatestVersion() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.versions()
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, pkgerrors.ErrNotFound
	}

	return versions[len(versions)-1], nil
}

// ExportLatest copies the latest checkpoint file to outputPath,
// used for final model export.
func (s *Store) ExportLatest(outputPath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.versions()
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return pkgerrors.ErrNotFound
	}

	data, err := os.ReadFile(s.path(versions[len(versions)-1]))
	if err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to export checkpoint: %w", err)
	}

	return nil
}

func (s *Store) path(version int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("model_v%d.ckpt", version))
}

func (s *Store) versions() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var versions []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var version int64
		if _, err := fmt.Sscanf(entry.Name(), "model_v%d.ckpt", &version); err == nil {
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	return versions, nil
}

func (s *Store) prune() error {
	if s.keepMax <= 0 {
		return nil
	}

	versions, err := s.versions()
	if err != nil {
		return err
	}
	for len(versions) > s.keepMax {
		if err := os.Remove(s.path(versions[0])); err != nil {
			return fmt.Errorf("failed to prune checkpoint: %w", err)
		}
		versions = versions[1:]
	}

	return nil
}
