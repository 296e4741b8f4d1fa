package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lherron/iatisync/internal/iati"
)

// SectorStore maintains the global sector catalog and activity allocations
type SectorStore struct {
	store *Store
}

// SectorAllocation is a persisted activity sector row joined with its
// catalog entry.
type SectorAllocation struct {
	Vocabulary string
	Code       string
	Percentage *decimal.Decimal
	Narrative  *string
}

// Replace deletes the activity's allocations and writes the given set,
// creating catalog entries for unseen codes.
func (s *SectorStore) Replace(ctx context.Context, activityID string, sectors []iati.Sector) (int, error) {
	written := 0
	err := s.store.replaceAll(ctx, activityID, []string{"activity_sectors"}, func(tx *sql.Tx) error {
		for _, sec := range sectors {
			sectorUUID, err := ensureSector(ctx, tx, sec)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO activity_sectors (uuid, activity_id, sector_uuid, percentage, narrative)
				VALUES (?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, sectorUUID, nullDecimal(sec.Percentage), nullString(sec.Narrative)); err != nil {
				return fmt.Errorf("failed to insert sector %s: %w", sec.Code, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func ensureSector(ctx context.Context, tx *sql.Tx, sec iati.Sector) (string, error) {
	vocabulary := strings.TrimSpace(sec.Vocabulary)
	if vocabulary == "" {
		vocabulary = "1"
	}
	code := strings.TrimSpace(sec.Code)
	name := strings.TrimSpace(sec.Narrative)
	if name == "" {
		name = code
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sectors (uuid, vocabulary, code, name) VALUES (?, ?, ?, ?)",
		uuid.NewString(), vocabulary, code, name); err != nil {
		return "", fmt.Errorf("failed to create sector %s: %w", code, err)
	}

	var sectorUUID string
	if err := tx.QueryRowContext(ctx,
		"SELECT uuid FROM sectors WHERE vocabulary = ? AND code = ?", vocabulary, code,
	).Scan(&sectorUUID); err != nil {
		return "", fmt.Errorf("failed to load sector %s: %w", code, err)
	}
	return sectorUUID, nil
}

// List returns the activity's allocations ordered by code
func (s *SectorStore) List(ctx context.Context, activityID string) ([]SectorAllocation, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT s.vocabulary, s.code, a.percentage, a.narrative
		FROM activity_sectors a JOIN sectors s ON s.uuid = a.sector_uuid
		WHERE a.activity_id = ?
		ORDER BY s.code`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sectors: %w", err)
	}
	defer rows.Close()

	var out []SectorAllocation
	for rows.Next() {
		var a SectorAllocation
		var pct sql.NullString
		if err := rows.Scan(&a.Vocabulary, &a.Code, &pct, &a.Narrative); err != nil {
			return nil, err
		}
		if pct.Valid {
			d, err := decimal.NewFromString(pct.String)
			if err != nil {
				return nil, fmt.Errorf("bad percentage %q: %w", pct.String, err)
			}
			a.Percentage = &d
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
