package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/types"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
)

// Database persists config entries and the last public tariff snapshot.
type Database interface {
	// Entries
	GetEntry(ctx context.Context, entryID string) (types.Entry, int, error)
	ListEntries(ctx context.Context) ([]StoredEntry, error)
	SetEntry(ctx context.Context, entry types.Entry, version int) error
	DeleteEntry(ctx context.Context, entryID string) error

	// Public tariffs
	SetPublicProducts(ctx context.Context, products types.PublicProducts) error
	GetPublicProducts(ctx context.Context) (*types.PublicProducts, error)

	// Lifecycle
	Close() error
}

// StoredEntry is an entry together with the version it was written at.
type StoredEntry struct {
	Entry   types.Entry `json:"entry" yaml:"entry"`
	Version int         `json:"version" yaml:"version"`
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, file)")

	var p struct{ Database }

	fs := configuredFirestore()
	file := configuredFile()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "file":
			if err := file.Validate(); err != nil {
				panic(fmt.Sprintf("file storage validation failed: %v", err))
			}
			p.Database = file
			if err := file.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("file storage init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
