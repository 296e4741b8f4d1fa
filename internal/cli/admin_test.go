package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/db"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/testutil"
)

// runAdm executes iatisyncadm in-process against dbPath
func runAdm(t *testing.T, dbPath string, args ...string) (string, string, error) {
	t.Helper()

	importDir, importFormat, importJobs = "", "", 1
	importContinueOnError, importProgress = false, false
	logsActivity, logsStatus, logsLimit, logsCursor, logsDiff = "", "", 50, "", false
	ratesSource, ratesCurrency = "manual", ""
	dbSequencesFix = false
	migrateDryRun, migrateStatus = false, false
	configDoctorJSON = false
	require.NoError(t, rootAdmCmd.PersistentFlags().Set("output", ""))
	require.NoError(t, rootAdmCmd.PersistentFlags().Set("as", ""))

	var stdout, stderr bytes.Buffer
	rootAdmCmd.SetOut(&stdout)
	rootAdmCmd.SetErr(&stderr)
	rootAdmCmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := rootAdmCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requestJSON(activityID, sector string) string {
	return fmt.Sprintf(`{"activityId": %q, "fields": {"sectors": true}, "iatiData": {"sectors": [{"code": %q, "percentage": 100}]}}`,
		activityID, sector)
}

func TestAdm_MigrateThenImportFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "iatisync.db")

	_, _, err := runAdm(t, dbPath, "logs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires migration")

	out, _, err := runAdm(t, dbPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied migration: 000001_baseline.sql")

	database, err := db.Open(dbPath)
	require.NoError(t, err)
	defer database.Close()
	testutil.SeedActivity(t, database, "act-1")

	file := testutil.WriteFile(t, t.TempDir(), "act-1.json", requestJSON("act-1", "11220"))
	out, _, err = runAdm(t, dbPath, "--as", "alice", "-o", "json", "import", file)
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "act-1", resp["activityId"])
	assert.Equal(t, []interface{}{"sectors"}, resp["fieldsUpdated"])

	out, _, err = runAdm(t, dbPath, "-o", "json", "logs", "list", "--activity", "act-1")
	require.NoError(t, err)
	var entries []domain.ImportLog
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "act-1.json", entries[0].FileName)
	require.NotNil(t, entries[0].Actor)
	assert.Equal(t, "alice", *entries[0].Actor)
}

func TestAdm_ImportMissingActivity(t *testing.T) {
	_, dbPath := testutil.TempDB(t)
	file := testutil.WriteFile(t, t.TempDir(), "missing.yaml", "activityId: missing\nfields:\n  sectors: true\niatiData: {}\n")

	_, _, err := runAdm(t, dbPath, "import", file)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	assert.Equal(t, 1, ExitCode(err))
}

func TestAdm_BulkImport(t *testing.T) {
	database, dbPath := testutil.TempDB(t)
	testutil.SeedActivity(t, database, "act-1")
	testutil.SeedActivity(t, database, "act-2")

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.json", requestJSON("act-1", "11220"))
	testutil.WriteFile(t, dir, "b.json", requestJSON("act-2", "15110"))
	testutil.WriteFile(t, dir, "c.json", requestJSON("act-1", "12220"))
	testutil.WriteFile(t, dir, "notes.txt", "ignored")

	_, stderr, err := runAdm(t, dbPath, "import", "--dir", dir, "--jobs", "2")
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "All 3 imports succeeded")
	assert.Equal(t, 3, testutil.CountRows(t, database, "import_logs", ""))
	assert.Equal(t, 1, testutil.CountRows(t, database, "activity_sectors", "activity_id = ?", "act-1"))
}

func TestAdm_BulkImportPartial(t *testing.T) {
	database, dbPath := testutil.TempDB(t)
	testutil.SeedActivity(t, database, "act-1")

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.json", requestJSON("act-1", "11220"))
	testutil.WriteFile(t, dir, "b.json", requestJSON("missing", "11220"))
	testutil.WriteFile(t, dir, "c.json", `{"activityId":`)

	_, stderr, err := runAdm(t, dbPath, "import", "--dir", dir, "--continue-on-error")
	require.Error(t, err)
	assert.Equal(t, 5, ExitCode(err))
	assert.Contains(t, stderr, "Partial success: 1 succeeded, 2 failed, 0 skipped")
}

func TestAdm_LogsShowDiff(t *testing.T) {
	database, dbPath := testutil.TempDB(t)
	testutil.SeedActivity(t, database, "act-1", testutil.WithTitle("Old title"))

	file := testutil.WriteFile(t, t.TempDir(), "title.json",
		`{"activityId": "act-1", "fields": {"title": true}, "iatiData": {"title": "New title"}}`)
	out, _, err := runAdm(t, dbPath, "-o", "json", "import", file)
	require.NoError(t, err)
	var resp struct {
		ImportLogID string `json:"importLogId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	out, _, err = runAdm(t, dbPath, "logs", "show", resp.ImportLogID, "--diff")
	require.NoError(t, err)
	assert.Contains(t, out, "--- "+resp.ImportLogID+" previous")
	assert.Contains(t, out, `-  "title": "Old title"`)
	assert.Contains(t, out, `+  "title": "New title"`)

	out, _, err = runAdm(t, dbPath, "logs", "show", resp.ImportLogID)
	require.NoError(t, err)
	assert.Contains(t, out, "fields_updated")
	assert.Contains(t, out, "title")

	_, _, err = runAdm(t, dbPath, "logs", "show", "IMP-99999")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))

	_, _, err = runAdm(t, dbPath, "logs", "show", "bogus")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))

	_, _, err = runAdm(t, dbPath, "logs", "list", "--cursor", "bogus")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestAdm_Rates(t *testing.T) {
	_, dbPath := testutil.TempDB(t)

	out, _, err := runAdm(t, dbPath, "rates", "set", "eur", "2024-01-01", "1.1")
	require.NoError(t, err)
	assert.Contains(t, out, "EUR on 2024-01-01 = 1.1 USD")

	_, _, err = runAdm(t, dbPath, "rates", "set", "GBP", "2024-01-01", "1.27", "--source", "ecb")
	require.NoError(t, err)

	for _, bad := range [][]string{
		{"XXZ", "2024-01-01", "1"},
		{"EUR", "01/01/2024", "1"},
		{"EUR", "2024-01-01", "-1"},
	} {
		_, _, err = runAdm(t, dbPath, append([]string{"rates", "set"}, bad...)...)
		require.Error(t, err, bad)
		assert.Equal(t, 2, ExitCode(err))
	}

	out, _, err = runAdm(t, dbPath, "-o", "tsv", "rates", "list", "--currency", "gbp")
	require.NoError(t, err)
	assert.Equal(t, "CURRENCY\tDATE\tRATE_TO_USD\tSOURCE\nGBP\t2024-01-01\t1.27\tecb\n", out)
}

func TestAdm_DBSequences(t *testing.T) {
	database, dbPath := testutil.TempDB(t)
	testutil.SeedOrganization(t, database, "", "Drifted Org", "drifted org", "")
	_, err := database.Exec("UPDATE organizations SET id = 'ORG-00042'")
	require.NoError(t, err)

	_, _, err = runAdm(t, dbPath, "db", "sequences")
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))

	_, _, err = runAdm(t, dbPath, "db", "sequences", "--fix")
	require.NoError(t, err)

	_, stderr, err := runAdm(t, dbPath, "db", "sequences")
	require.NoError(t, err)
	assert.Contains(t, stderr, "All sequences are in sync.")
}

func TestAdm_ConfigDoctor(t *testing.T) {
	_, dbPath := testutil.TempDB(t)
	t.Setenv("IATISYNCD_TOKEN", "secret")

	out, _, err := runAdm(t, dbPath, "config", "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "db_path: "+dbPath)
	assert.Contains(t, out, "command-line flag --db")
	assert.Contains(t, out, "2 migration(s) applied")

	t.Setenv("IATISYNC_SUPPORTED_CURRENCIES", "EUR,XXZ")
	out, _, err = runAdm(t, dbPath, "config", "doctor", "--json")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))

	var report configDoctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Config["supported_currencies"].Valid)
	assert.Equal(t, "unknown ISO 4217 codes: XXZ", report.Config["supported_currencies"].Note)
	assert.Equal(t, "(set)", report.Config["daemon_token"].Value)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, 5, ExitCode(exitError(5, errors.New("partial"))))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("wrapped: %w", exitError(2, errors.New("usage")))))
}
