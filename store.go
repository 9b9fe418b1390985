package switchover

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateStoreDirEnv overrides the directory containing state files.
const StateStoreDirEnv = "HUBSWITCH_STATE_DIR"

// StateStore persists the workflow state document. Implementations must be
// single-writer: Acquire blocks a second invocation against the same cluster
// pair from corrupting the ledger.
type StateStore interface {

	// Acquire takes the single-writer lock for this cluster pair. The
	// returned release function must be called when the invocation ends.
	Acquire(ctx context.Context) (release func(), err error)

	// Load returns the persisted state, or nil if none exists yet.
	Load(ctx context.Context) (*WorkflowState, error)

	// Save persists the state. The write must be atomic from the point of
	// view of a concurrent reader.
	Save(ctx context.Context, state *WorkflowState) error

	// Reset discards the persisted state.
	Reset(ctx context.Context) error
}

// FileStateStore is a file-backed implementation that persists the state
// document to disk. Writes go through a temp file plus rename so an
// interrupted write never leaves a corrupt document, and an O_EXCL lock file
// enforces the single-writer rule.
type FileStateStore struct {
	path string
}

// StateFileName derives the deterministic state file name for a cluster
// identity pair.
func StateFileName(primaryContext, secondaryContext string) string {
	return fmt.Sprintf("switchover-%s--%s.json",
		sanitizeContext(primaryContext), sanitizeContext(secondaryContext))
}

// sanitizeContext makes a kubeconfig context name safe for use in a file name.
func sanitizeContext(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		}
		return '_'
	}, name)
}

// NewFileStateStore creates a store at the deterministic path for the given
// cluster pair. The directory defaults to ~/.hubswitch/state, may be
// overridden by the HUBSWITCH_STATE_DIR environment variable, and dir (when
// non-empty) overrides both.
func NewFileStateStore(dir, primaryContext, secondaryContext string) (*FileStateStore, error) {
	if dir == "" {
		dir = os.Getenv(StateStoreDirEnv)
	}
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".hubswitch", "state")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &FileStateStore{path: filepath.Join(dir, StateFileName(primaryContext, secondaryContext))}, nil
}

// NewFileStateStoreAt creates a store at an explicit file path, overriding
// the derived location entirely.
func NewFileStateStoreAt(path string) (*FileStateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{path: path}, nil
}

// Path returns the state file location.
func (f *FileStateStore) Path() string {
	return f.path
}

func (f *FileStateStore) lockPath() string {
	return f.path + ".lock"
}

// Acquire creates the lock file. A second invocation against the same pair
// fails immediately rather than waiting.
func (f *FileStateStore) Acquire(ctx context.Context) (func(), error) {
	lock, err := os.OpenFile(f.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("state file %s is locked by another invocation (remove %s if that process is gone)", f.path, f.lockPath())
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(lock, "%d\n", os.Getpid())
	lock.Close()
	return func() {
		os.Remove(f.lockPath())
	}, nil
}

// Load reads the persisted state, returning nil when no state exists yet.
func (f *FileStateStore) Load(ctx context.Context) (*WorkflowState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file %s: %w", f.path, err)
	}
	return &state, nil
}

// Save writes the state atomically via a temp file and rename.
func (f *FileStateStore) Save(ctx context.Context, state *WorkflowState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Reset deletes the state file. Resetting a store that has no state is not
// an error.
func (f *FileStateStore) Reset(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// NullStateStore discards all writes and reports no existing state. Used for
// dry runs, which must not advance the ledger.
type NullStateStore struct{}

// NewNullStateStore creates a state store that does nothing.
func NewNullStateStore() *NullStateStore {
	return &NullStateStore{}
}

func (n *NullStateStore) Acquire(ctx context.Context) (func(), error) {
	return func() {}, nil
}

func (n *NullStateStore) Load(ctx context.Context) (*WorkflowState, error) {
	return nil, nil
}

func (n *NullStateStore) Save(ctx context.Context, state *WorkflowState) error {
	return nil
}

func (n *NullStateStore) Reset(ctx context.Context) error {
	return nil
}
