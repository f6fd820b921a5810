package types

import (
	"fmt"
	"strings"
	"time"
)

// CurrentEntryVersion is the current version of the Entry struct.
// Increment this value when adding new fields that require default values.
const CurrentEntryVersion = 1

// Entry is a configured set of credentials and the accounts reachable with
// them. It is persisted so the integration can be restored on restart.
type Entry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Email string `json:"email"`

	AccountNumbers []string `json:"accountNumbers"`

	Options EntryOptions `json:"options"`

	// AuthStatus is informational, surfaced to operators. Retries after an
	// authentication failure are stopped by the entry state instead.
	AuthStatus AuthStatus `json:"authStatus"`

	CreatedAt time.Time `json:"createdAt"`

	// Credentials for the API (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`
}

// EntryOptions are user adjustable options of an entry.
type EntryOptions struct {
	// DisabledEntities lists entity unique IDs the user disabled.
	DisabledEntities []string `json:"disabledEntities,omitempty"`
	// PublicTariffs enables the public tariff entities for this entry.
	PublicTariffs bool `json:"publicTariffs"`
}

// AuthStatus records the outcome of recent logins.
type AuthStatus struct {
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastAttempt         time.Time `json:"lastAttempt"`
}

// Credentials for the Kraken API
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MigrateEntry migrates the entry to the current version.
// It returns the migrated entry, a boolean indicating if changes were made, and an error if migration failed.
func MigrateEntry(e Entry, currentVersion int) (Entry, bool, error) {
	if currentVersion >= CurrentEntryVersion {
		return e, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentEntryVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if e.Title == "" && e.Email != "" {
				e.Title = "Octopus Energy Italy (" + strings.ToLower(e.Email) + ")"
				migrated = true
			}
		default:
			return e, false, fmt.Errorf("unknown entry version: %d", version)
		}
	}

	return e, migrated, nil
}
