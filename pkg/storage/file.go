package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/types"
	"gopkg.in/yaml.v3"
)

// fileState is the on-disk layout of the file provider.
type fileState struct {
	Entries       map[string]StoredEntry `yaml:"entries"`
	PublicTariffs *types.PublicProducts  `yaml:"publicTariffs,omitempty"`
}

// FileProvider implements Database with a single YAML file. It is meant for
// single node installs.
type FileProvider struct {
	path string

	mu    sync.Mutex
	state fileState
}

func configuredFile() *FileProvider {
	path := lflag.String("file-storage-path", "octoit.yaml", "Path of the YAML file used by the file storage provider")

	f := &FileProvider{}
	lflag.Do(func() {
		f.path = *path
	})
	return f
}

// NewFileProvider returns a FileProvider for path. Init must be called
// before use.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Validate checks if the provider is properly configured.
func (f *FileProvider) Validate() error {
	if f.path == "" {
		return errors.New("file-storage-path is required")
	}
	return nil
}

// Init loads the file. A missing file starts empty.
func (f *FileProvider) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = fileState{Entries: make(map[string]StoredEntry)}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(b, &f.state); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	if f.state.Entries == nil {
		f.state.Entries = make(map[string]StoredEntry)
	}
	return nil
}

// flush writes the state through a temporary file and rename. Callers hold
// f.mu.
func (f *FileProvider) flush() error {
	b, err := yaml.Marshal(&f.state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".octoit-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// GetEntry returns an entry and its stored version.
func (f *FileProvider) GetEntry(ctx context.Context, entryID string) (types.Entry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	se, ok := f.state.Entries[entryID]
	if !ok {
		return types.Entry{}, 0, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return se.Entry, se.Version, nil
}

// ListEntries returns all entries sorted by id.
func (f *FileProvider) ListEntries(ctx context.Context) ([]StoredEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StoredEntry, 0, len(f.state.Entries))
	for _, se := range f.state.Entries {
		out = append(out, se)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.ID < out[j].Entry.ID })
	return out, nil
}

// SetEntry stores an entry.
func (f *FileProvider) SetEntry(ctx context.Context, entry types.Entry, version int) error {
	if entry.ID == "" {
		return fmt.Errorf("entry id cannot be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.state.Entries[entry.ID]
	f.state.Entries[entry.ID] = StoredEntry{Entry: entry, Version: version}
	if err := f.flush(); err != nil {
		if had {
			f.state.Entries[entry.ID] = prev
		} else {
			delete(f.state.Entries, entry.ID)
		}
		return err
	}
	return nil
}

// DeleteEntry removes an entry. Deleting a missing entry is not an error.
func (f *FileProvider) DeleteEntry(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.state.Entries[entryID]
	if !ok {
		return nil
	}
	delete(f.state.Entries, entryID)
	if err := f.flush(); err != nil {
		f.state.Entries[entryID] = prev
		return err
	}
	return nil
}

// SetPublicProducts stores the latest public tariff snapshot.
func (f *FileProvider) SetPublicProducts(ctx context.Context, products types.PublicProducts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.state.PublicTariffs
	f.state.PublicTariffs = &products
	if err := f.flush(); err != nil {
		f.state.PublicTariffs = prev
		return err
	}
	return nil
}

// GetPublicProducts returns the stored public tariff snapshot, or nil.
func (f *FileProvider) GetPublicProducts(ctx context.Context) (*types.PublicProducts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.PublicTariffs == nil {
		return nil, nil
	}
	p := *f.state.PublicTariffs
	return &p, nil
}

// Close is a no-op, every write is flushed immediately.
func (f *FileProvider) Close() error {
	return nil
}
