// Package repository provides data access interfaces and implementations
// for the citation resolution service.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL
// implementations following the repository pattern to abstract data
// persistence from business logic.
//
// # Repository Interfaces
//
//   - CitationRepository: Manages the shared citation library, per-user
//     libraries, lookup aliases, and the lookup audit log
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple
// goroutines. The underlying pgxpool handles connection pooling and
// synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Wrap database errors with context using fmt.Errorf with %w verb.
// Common errors include:
//
//   - domain.ErrNotFound: no record matched any lookup key
//   - domain.ErrMalformedRequest: invalid parameters provided
//
// # Transactions
//
// Use the DBTX interface to support both pool and transaction contexts.
// Pass a transaction from database.DB.WithTransaction for atomic operations.
package repository

import (
	"github.com/citategenie/resolution-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// This allows repositories to work with both direct pool connections and
// transactions:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    txRepo := repository.NewPgCitationRepository(tx)
//	    return txRepo.PromoteToUser(ctx, userID, citationID, key)
//	})
type DBTX = database.DBTX

// Stats query limits.
const (
	defaultTopKeys = 10
	maxTopKeys     = 100
)
