package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/octoit/octoit/pkg/log"
	"github.com/octoit/octoit/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	entriesCollection = "entries"
	tariffsCollection = "public_tariffs"
	latestTariffsDoc  = "latest"
)

// FirestoreProvider implements Database using Google Cloud Firestore.
// Documents store the value as a JSON string next to its version.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// project id may be inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

func docJSON(doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// GetEntry retrieves an entry from the "entries" collection.
func (f *FirestoreProvider) GetEntry(ctx context.Context, entryID string) (types.Entry, int, error) {
	if entryID == "" {
		return types.Entry{}, 0, fmt.Errorf("entryID cannot be empty")
	}
	doc, err := f.client.Collection(entriesCollection).Doc(entryID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Entry{}, 0, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return types.Entry{}, 0, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}

	var entry types.Entry
	if err := docJSON(doc, &entry); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read entry doc", slog.String("entryID", entryID), slog.Any("err", err))
		return types.Entry{}, 0, err
	}
	return entry, docVersion(doc), nil
}

// ListEntries retrieves all entries. Malformed documents are skipped.
func (f *FirestoreProvider) ListEntries(ctx context.Context) ([]StoredEntry, error) {
	iter := f.client.Collection(entriesCollection).Documents(ctx)
	defer iter.Stop()

	var entries []StoredEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating entries: %w", err)
		}

		var entry types.Entry
		if err := docJSON(doc, &entry); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed entry doc", slog.String("entryID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		if entry.ID == "" {
			entry.ID = doc.Ref.ID
		}
		entries = append(entries, StoredEntry{Entry: entry, Version: docVersion(doc)})
	}
	return entries, nil
}

// SetEntry saves an entry as a JSON blob keyed by its id.
func (f *FirestoreProvider) SetEntry(ctx context.Context, entry types.Entry, version int) error {
	if entry.ID == "" {
		return fmt.Errorf("entry id cannot be empty")
	}
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	_, err = f.client.Collection(entriesCollection).Doc(entry.ID).Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry removes an entry. Deleting a missing entry is not an error.
func (f *FirestoreProvider) DeleteEntry(ctx context.Context, entryID string) error {
	if entryID == "" {
		return fmt.Errorf("entryID cannot be empty")
	}
	if _, err := f.client.Collection(entriesCollection).Doc(entryID).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	return nil
}

// SetPublicProducts saves the latest public tariff snapshot.
func (f *FirestoreProvider) SetPublicProducts(ctx context.Context, products types.PublicProducts) error {
	jsonBytes, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to marshal public products: %w", err)
	}
	_, err = f.client.Collection(tariffsCollection).Doc(latestTariffsDoc).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"fetchedAt": products.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save public products: %w", err)
	}
	return nil
}

// GetPublicProducts returns the last saved public tariff snapshot, or nil
// if none was saved yet.
func (f *FirestoreProvider) GetPublicProducts(ctx context.Context) (*types.PublicProducts, error) {
	doc, err := f.client.Collection(tariffsCollection).Doc(latestTariffsDoc).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get public products: %w", err)
	}
	var products types.PublicProducts
	if err := docJSON(doc, &products); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read public products doc", slog.Any("err", err))
		return nil, err
	}
	return &products, nil
}
