package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSequenceDriftDetectAndFix(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	// An explicit friendly ID bypasses the sequence trigger.
	_, err = database.Exec(`
		INSERT INTO organizations (uuid, id, name, name_folded)
		VALUES ('org-uuid-1', 'ORG-00042', 'Drift Org', 'drift org')
	`)
	if err != nil {
		t.Fatalf("failed to insert organization: %v", err)
	}

	drifts, err := SequenceDrifts(database, DefaultSequenceSpecs())
	if err != nil {
		t.Fatalf("failed to detect sequence drift: %v", err)
	}
	if len(drifts) != 1 || drifts[0].SeqTable != "organization_seq" {
		t.Fatalf("expected organization_seq drift, got %+v", drifts)
	}
	if drifts[0].MaxID != 42 || drifts[0].SeqValue != 0 {
		t.Errorf("unexpected drift values: %+v", drifts[0])
	}

	if _, err := FixSequenceDrifts(database, DefaultSequenceSpecs()); err != nil {
		t.Fatalf("failed to fix sequence drift: %v", err)
	}

	drifts, err = SequenceDrifts(database, DefaultSequenceSpecs())
	if err != nil {
		t.Fatalf("failed to detect sequence drift after fix: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift after fix, found %d", len(drifts))
	}

	// The next trigger-assigned id continues after the fixed value.
	if _, err := database.Exec(`INSERT INTO organizations (uuid, name, name_folded) VALUES ('org-uuid-2', 'Next', 'next')`); err != nil {
		t.Fatalf("failed to insert organization: %v", err)
	}
	var id string
	if err := database.QueryRow("SELECT id FROM organizations WHERE uuid = 'org-uuid-2'").Scan(&id); err != nil {
		t.Fatalf("failed to read id: %v", err)
	}
	if !strings.EqualFold(id, "ORG-00043") {
		t.Errorf("expected ORG-00043, got %s", id)
	}
}
