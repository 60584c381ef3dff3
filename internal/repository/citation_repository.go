package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/citategenie/resolution-service/internal/domain"
)

// CitationRepository handles persistence for the two-tier citation library.
// The shared tier is a global cache of resolved records keyed by normalized
// lookup keys; the user tier holds per-user copies with optional field
// overrides. Every key-bearing record also has rows in lookup_aliases so a
// record is reachable under any of its alias spellings.
type CitationRepository interface {
	// GetSharedByKeys retrieves a shared-tier record matching any of the
	// given lookup keys, preferring earlier keys in the slice.
	// Returns domain.ErrNotFound if no record matches.
	GetSharedByKeys(ctx context.Context, keys []string) (*domain.Record, error)

	// RecordSharedHit increments the lookup counter of a shared record.
	// Returns domain.ErrNotFound if the record does not exist.
	RecordSharedHit(ctx context.Context, citationID uuid.UUID) error

	// UpsertShared inserts a resolved record into the shared tier, or
	// increments the hit counter if a record with the same lookup key
	// already exists. Aliases are registered for the record in the same
	// call; already-claimed aliases are left untouched.
	//
	// Returns the stored record (with ID and LookupCount populated) and
	// whether the write landed on the increment path because the record
	// already existed.
	UpsertShared(ctx context.Context, record *domain.Record, aliases []string) (*domain.Record, bool, error)

	// GetUserByKeys retrieves a user-tier record matching any of the given
	// lookup keys, preferring earlier keys. Field overrides saved by the
	// user are already applied to the returned record.
	// Returns domain.ErrNotFound if the user has no matching entry.
	GetUserByKeys(ctx context.Context, userID int64, keys []string) (*domain.Record, error)

	// PromoteToUser copies a shared record into a user's library. The
	// operation is idempotent: promoting an already-promoted record is a
	// no-op. Returns domain.ErrNotFound if the shared record is missing.
	PromoteToUser(ctx context.Context, userID int64, citationID uuid.UUID, lookupKey string) error

	// SaveUserEntry stores or replaces a user's library entry, including
	// field overrides and the edit classification of the saved text.
	SaveUserEntry(ctx context.Context, entry *UserEntry) error

	// InsertLookupLog appends one lookup outcome to the audit log.
	InsertLookupLog(ctx context.Context, entry *LookupLogEntry) error

	// PurgeByKey removes a shared record and all of its aliases and user
	// copies. Returns the number of shared records removed.
	PurgeByKey(ctx context.Context, key string) (int64, error)

	// Stats returns aggregate library statistics.
	Stats(ctx context.Context, topN int) (*LibraryStats, error)
}

// UserEntry is one record in a user's personal library. Overrides maps
// record field names (title, year, journal, volume, issue, pages,
// publisher, doi, url) to user-supplied replacement values.
type UserEntry struct {
	UserID     int64
	CitationID uuid.UUID
	LookupKey  string
	Overrides  map[string]string
	EditClass  domain.EditClassification
	SavedText  string
}

// LookupLogEntry is one row of the lookup audit log.
type LookupLogEntry struct {
	UserID     int64
	DocumentID uuid.UUID
	LookupKey  string
	RawText    string
	Tier       domain.Tier
	Provider   string
	Outcome    domain.AttemptOutcome
	Cost       float64
	Latency    time.Duration
}

// LibraryStats holds aggregate counts over the citation library.
type LibraryStats struct {
	SharedRecords int64      `json:"shared_records"`
	TotalLookups  int64      `json:"total_lookups"`
	UserEntries   int64      `json:"user_entries"`
	TopKeys       []KeyCount `json:"top_keys"`
}

// KeyCount pairs a lookup key with its hit counter.
type KeyCount struct {
	LookupKey string `json:"lookup_key"`
	Count     int64  `json:"count"`
}
