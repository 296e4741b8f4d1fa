package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/lherron/iatisync/internal/db"
)

// TempDB creates a migrated temporary SQLite database for testing
func TempDB(t *testing.T) (*db.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database, dbPath
}

// ActivityOption customizes a seeded activity
type ActivityOption func(cols map[string]interface{})

// WithIATIIdentifier sets the activity's IATI identifier
func WithIATIIdentifier(identifier string) ActivityOption {
	return func(cols map[string]interface{}) { cols["iati_identifier"] = identifier }
}

// WithDefaultCurrency sets the activity's default currency
func WithDefaultCurrency(currency string) ActivityOption {
	return func(cols map[string]interface{}) { cols["default_currency"] = currency }
}

// WithTitle sets the activity's title
func WithTitle(title string) ActivityOption {
	return func(cols map[string]interface{}) { cols["title"] = title }
}

// WithReportingOrg sets the activity's reporting organization
func WithReportingOrg(orgUUID string) ActivityOption {
	return func(cols map[string]interface{}) { cols["reporting_org_uuid"] = orgUUID }
}

// SeedActivity inserts an activity row
func SeedActivity(t *testing.T, database *db.DB, id string, opts ...ActivityOption) {
	t.Helper()

	cols := map[string]interface{}{
		"iati_identifier":    nil,
		"title":              nil,
		"default_currency":   nil,
		"reporting_org_uuid": nil,
	}
	for _, opt := range opts {
		opt(cols)
	}

	_, err := database.Exec(`
		INSERT INTO activities (id, iati_identifier, title, default_currency, reporting_org_uuid)
		VALUES (?, ?, ?, ?, ?)
	`, id, cols["iati_identifier"], cols["title"], cols["default_currency"], cols["reporting_org_uuid"])
	if err != nil {
		t.Fatalf("Failed to seed activity %s: %v", id, err)
	}
}

// SeedOrganization inserts an organization and returns its uuid. An empty
// ref seeds a reference-less organization.
func SeedOrganization(t *testing.T, database *db.DB, ref, name, folded, currency string) string {
	t.Helper()

	orgUUID := uuid.NewString()
	var refArg, currencyArg interface{}
	if ref != "" {
		refArg = ref
	}
	if currency != "" {
		currencyArg = currency
	}

	if _, err := database.Exec(`
		INSERT INTO organizations (uuid, iati_org_id, name, name_folded, default_currency)
		VALUES (?, ?, ?, ?, ?)
	`, orgUUID, refArg, name, folded, currencyArg); err != nil {
		t.Fatalf("Failed to seed organization %s: %v", name, err)
	}
	if ref != "" {
		if _, err := database.Exec(
			"INSERT INTO organization_aliases (ref, organization_uuid) VALUES (?, ?)", ref, orgUUID); err != nil {
			t.Fatalf("Failed to seed alias %s: %v", ref, err)
		}
	}
	return orgUUID
}

// CountRows counts rows in a table matching an optional WHERE clause
func CountRows(t *testing.T, database *db.DB, table, where string, args ...interface{}) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := database.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// WriteFile writes content to a file in a directory
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}
