package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/citategenie/resolution-service/internal/domain"
)

// Compile-time interface verification.
var _ CitationRepository = (*PgCitationRepository)(nil)

// PgCitationRepository is a PostgreSQL implementation of CitationRepository.
type PgCitationRepository struct {
	db DBTX
}

// NewPgCitationRepository creates a new PostgreSQL citation repository.
func NewPgCitationRepository(db DBTX) *PgCitationRepository {
	return &PgCitationRepository{db: db}
}

const citationColumns = `c.id, c.lookup_key, c.citation_type, c.title, c.authors,
		c.year, c.journal, c.volume, c.issue, c.pages, c.publisher,
		c.doi, c.url, c.confidence, c.provenance, c.lookup_count`

// GetSharedByKeys retrieves a shared-tier record matching any of the given
// lookup keys. The alias table carries every key a record is reachable under,
// including its own lookup key, so a single join answers all spellings.
// Earlier keys win: array_position orders matches by the caller's preference.
func (r *PgCitationRepository) GetSharedByKeys(ctx context.Context, keys []string) (*domain.Record, error) {
	if len(keys) == 0 {
		return nil, domain.NewValidationError("keys", "at least one lookup key is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM citations c
		INNER JOIN lookup_aliases a ON a.citation_id = c.id
		WHERE a.alias = ANY($1)
		ORDER BY array_position($1, a.alias)
		LIMIT 1`, citationColumns)

	row := r.db.QueryRow(ctx, query, keys)
	record, err := scanCitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shared citation: %w", err)
	}

	return record, nil
}

// RecordSharedHit increments the lookup counter of a shared record.
func (r *PgCitationRepository) RecordSharedHit(ctx context.Context, citationID uuid.UUID) error {
	query := `
		UPDATE citations
		SET lookup_count = lookup_count + 1, updated_at = $1
		WHERE id = $2`

	result, err := r.db.Exec(ctx, query, time.Now().UTC(), citationID)
	if err != nil {
		return fmt.Errorf("failed to record shared hit: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// UpsertShared inserts a resolved record or increments the existing record's
// hit counter when the lookup key is already claimed. Two workers resolving
// the same citation concurrently therefore converge on one row with
// lookup_count 2 instead of erroring.
func (r *PgCitationRepository) UpsertShared(ctx context.Context, record *domain.Record, aliases []string) (*domain.Record, bool, error) {
	if record == nil {
		return nil, false, domain.NewValidationError("record", "record cannot be nil")
	}
	if record.LookupKey == "" {
		return nil, false, domain.NewValidationError("lookup_key", "lookup key is required")
	}

	authorsJSON, err := json.Marshal(record.Authors)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal authors: %w", err)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CitationType == "" {
		record.CitationType = domain.CitationTypeUnknown
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO citations (
			id, lookup_key, citation_type, title, authors,
			year, journal, volume, issue, pages, publisher,
			doi, url, confidence, provenance, lookup_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16
		)
		ON CONFLICT (lookup_key) DO UPDATE SET
			lookup_count = citations.lookup_count + 1,
			doi = COALESCE(NULLIF(EXCLUDED.doi, ''), citations.doi),
			url = COALESCE(NULLIF(EXCLUDED.url, ''), citations.url),
			updated_at = NOW()
		RETURNING id, lookup_count`

	err = r.db.QueryRow(ctx, query,
		record.ID,
		record.LookupKey,
		record.CitationType,
		record.Title,
		authorsJSON,
		record.Year,
		record.Journal,
		record.Volume,
		record.Issue,
		record.Pages,
		record.Publisher,
		record.DOI,
		record.URL,
		record.Confidence,
		record.Provenance,
		now,
	).Scan(&record.ID, &record.LookupCount)

	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert citation: %w", err)
	}

	// lookup_count starts at 1 on insert; anything higher means the
	// conflict branch ran.
	existed := record.LookupCount > 1

	if err := r.registerAliases(ctx, record.ID, record.LookupKey, aliases); err != nil {
		return nil, existed, err
	}

	return record, existed, nil
}

// registerAliases inserts alias rows for a citation. The record's own lookup
// key is always registered so GetSharedByKeys needs only the alias join.
// Aliases already claimed by another record are left untouched: first writer
// wins, matching the shared tier's insert semantics.
func (r *PgCitationRepository) registerAliases(ctx context.Context, citationID uuid.UUID, lookupKey string, aliases []string) error {
	query := `
		INSERT INTO lookup_aliases (alias, citation_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (alias) DO NOTHING`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	batch.Queue(query, lookupKey, citationID, now)
	for _, alias := range aliases {
		if alias == "" || alias == lookupKey {
			continue
		}
		batch.Queue(query, alias, citationID, now)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to register alias: %w", err)
		}
	}

	return nil
}

// GetUserByKeys retrieves a user-tier record matching any of the given keys,
// with the user's saved field overrides applied.
func (r *PgCitationRepository) GetUserByKeys(ctx context.Context, userID int64, keys []string) (*domain.Record, error) {
	if userID == 0 {
		return nil, domain.NewValidationError("user_id", "user ID is required")
	}
	if len(keys) == 0 {
		return nil, domain.NewValidationError("keys", "at least one lookup key is required")
	}

	query := fmt.Sprintf(`
		SELECT %s, ul.overrides
		FROM user_library ul
		INNER JOIN citations c ON c.id = ul.citation_id
		INNER JOIN lookup_aliases a ON a.citation_id = c.id
		WHERE ul.user_id = $1 AND a.alias = ANY($2)
		ORDER BY array_position($2, a.alias)
		LIMIT 1`, citationColumns)

	var dest citationScanDest
	var overridesJSON []byte
	row := r.db.QueryRow(ctx, query, userID, keys)
	if err := row.Scan(append(dest.destinations(), &overridesJSON)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user citation: %w", err)
	}

	record, err := dest.finalize()
	if err != nil {
		return nil, err
	}

	if len(overridesJSON) > 0 {
		var overrides map[string]string
		if err := json.Unmarshal(overridesJSON, &overrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
		applyOverrides(record, overrides)
	}

	return record, nil
}

// applyOverrides replaces record fields with the user's saved values.
func applyOverrides(record *domain.Record, overrides map[string]string) {
	for field, value := range overrides {
		switch field {
		case "title":
			record.Title = value
		case "year":
			record.Year = value
		case "journal":
			record.Journal = value
		case "volume":
			record.Volume = value
		case "issue":
			record.Issue = value
		case "pages":
			record.Pages = value
		case "publisher":
			record.Publisher = value
		case "doi":
			record.DOI = value
		case "url":
			record.URL = value
		}
	}
}

// PromoteToUser copies a shared record into a user's library.
func (r *PgCitationRepository) PromoteToUser(ctx context.Context, userID int64, citationID uuid.UUID, lookupKey string) error {
	if userID == 0 {
		return domain.NewValidationError("user_id", "user ID is required")
	}

	query := `
		INSERT INTO user_library (user_id, citation_id, lookup_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, lookup_key) DO NOTHING`

	_, err := r.db.Exec(ctx, query, userID, citationID, lookupKey, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// FK violation: the shared record is gone
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to promote citation: %w", err)
	}

	return nil
}

// SaveUserEntry stores or replaces a user's library entry.
func (r *PgCitationRepository) SaveUserEntry(ctx context.Context, entry *UserEntry) error {
	if entry == nil {
		return domain.NewValidationError("entry", "entry cannot be nil")
	}
	if entry.UserID == 0 {
		return domain.NewValidationError("user_id", "user ID is required")
	}
	if entry.LookupKey == "" {
		return domain.NewValidationError("lookup_key", "lookup key is required")
	}

	var overridesJSON []byte
	var err error
	if len(entry.Overrides) > 0 {
		overridesJSON, err = json.Marshal(entry.Overrides)
		if err != nil {
			return fmt.Errorf("failed to marshal overrides: %w", err)
		}
	}

	query := `
		INSERT INTO user_library (
			user_id, citation_id, lookup_key, overrides, edit_class, saved_text,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, lookup_key) DO UPDATE SET
			citation_id = EXCLUDED.citation_id,
			overrides = EXCLUDED.overrides,
			edit_class = EXCLUDED.edit_class,
			saved_text = EXCLUDED.saved_text,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		entry.UserID,
		entry.CitationID,
		entry.LookupKey,
		overridesJSON,
		entry.EditClass,
		entry.SavedText,
		time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to save user entry: %w", err)
	}

	return nil
}

// InsertLookupLog appends one lookup outcome to the audit log.
func (r *PgCitationRepository) InsertLookupLog(ctx context.Context, entry *LookupLogEntry) error {
	if entry == nil {
		return domain.NewValidationError("entry", "entry cannot be nil")
	}

	query := `
		INSERT INTO lookup_log (
			user_id, document_id, lookup_key, raw_text, tier, provider,
			outcome, cost_usd, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		entry.UserID,
		entry.DocumentID,
		entry.LookupKey,
		entry.RawText,
		entry.Tier,
		entry.Provider,
		entry.Outcome,
		entry.Cost,
		entry.Latency.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lookup log: %w", err)
	}

	return nil
}

// PurgeByKey removes a shared record reachable under the given key. Aliases
// and user copies go with it via ON DELETE CASCADE.
func (r *PgCitationRepository) PurgeByKey(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, domain.NewValidationError("key", "lookup key is required")
	}

	query := `
		DELETE FROM citations
		WHERE id IN (SELECT citation_id FROM lookup_aliases WHERE alias = $1)`

	result, err := r.db.Exec(ctx, query, key)
	if err != nil {
		return 0, fmt.Errorf("failed to purge citation: %w", err)
	}

	return result.RowsAffected(), nil
}

// Stats returns aggregate library statistics including the most looked-up keys.
func (r *PgCitationRepository) Stats(ctx context.Context, topN int) (*LibraryStats, error) {
	if topN <= 0 {
		topN = defaultTopKeys
	}
	if topN > maxTopKeys {
		topN = maxTopKeys
	}

	stats := &LibraryStats{}

	query := `
		SELECT
			(SELECT COUNT(*) FROM citations),
			(SELECT COALESCE(SUM(lookup_count), 0) FROM citations),
			(SELECT COUNT(*) FROM user_library)`

	if err := r.db.QueryRow(ctx, query).Scan(&stats.SharedRecords, &stats.TotalLookups, &stats.UserEntries); err != nil {
		return nil, fmt.Errorf("failed to query library stats: %w", err)
	}

	topQuery := `
		SELECT lookup_key, lookup_count
		FROM citations
		ORDER BY lookup_count DESC, lookup_key
		LIMIT $1`

	rows, err := r.db.Query(ctx, topQuery, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to query top keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.LookupKey, &kc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top key: %w", err)
		}
		stats.TopKeys = append(stats.TopKeys, kc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top keys: %w", err)
	}

	return stats, nil
}

// citationScanDest holds the destination pointers for scanning a citation row.
type citationScanDest struct {
	record      domain.Record
	authorsJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *citationScanDest) destinations() []interface{} {
	return []interface{}{
		&d.record.ID, &d.record.LookupKey, &d.record.CitationType, &d.record.Title, &d.authorsJSON,
		&d.record.Year, &d.record.Journal, &d.record.Volume, &d.record.Issue, &d.record.Pages,
		&d.record.Publisher, &d.record.DOI, &d.record.URL, &d.record.Confidence,
		&d.record.Provenance, &d.record.LookupCount,
	}
}

// finalize performs post-scan processing: unmarshals JSON fields.
func (d *citationScanDest) finalize() (*domain.Record, error) {
	if len(d.authorsJSON) > 0 {
		if err := json.Unmarshal(d.authorsJSON, &d.record.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	return &d.record, nil
}

// scanCitation scans a single row into a Record.
func scanCitation(row pgx.Row) (*domain.Record, error) {
	var dest citationScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
