// Package store provides the persistence layer for import runs. Each field
// group's writes run in their own transaction so a failure in one group never
// rolls back another.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/lherron/iatisync/internal/db"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/events"
)

// Store is the root store that provides access to domain-specific stores.
type Store struct {
	db *db.DB

	Activities        *ActivityStore
	Organizations     *OrganizationStore
	Sectors           *SectorStore
	ParticipatingOrgs *ParticipatingOrgStore
	Finance           *FinanceStore
	PolicyMarkers     *PolicyMarkerStore
	Collections       *CollectionStore
	Relationships     *RelationshipStore
	ImportLogs        *ImportLogStore
	ExchangeRates     *ExchangeRateStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Activities = &ActivityStore{store: s}
	s.Organizations = &OrganizationStore{store: s}
	s.Sectors = &SectorStore{store: s}
	s.ParticipatingOrgs = &ParticipatingOrgStore{store: s}
	s.Finance = &FinanceStore{store: s}
	s.PolicyMarkers = &PolicyMarkerStore{store: s}
	s.Collections = &CollectionStore{store: s}
	s.Relationships = &RelationshipStore{store: s}
	s.ImportLogs = &ImportLogStore{store: s}
	s.ExchangeRates = &ExchangeRateStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(s.db.DB)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

// replaceAll deletes an activity's rows from each table then runs insert,
// all in one transaction.
func (s *Store) replaceAll(ctx context.Context, activityID string, tables []string, insert func(tx *sql.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx, _ *events.Writer) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE activity_id = ?", table), activityID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return insert(tx)
	})
}

// isUniqueViolation reports whether err is a sqlite uniqueness failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// notFound maps sql.ErrNoRows onto domain.ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
