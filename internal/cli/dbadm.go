package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/cli/appctx"
	"github.com/lherron/iatisync/internal/db"
)

var dbAdmCmd = &cobra.Command{
	Use:   "db",
	Short: "Database lifecycle operations",
	Long:  `Commands for database snapshot and maintenance operations.`,
}

var dbSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create a WAL-safe database snapshot",
	Long: `Creates a consistent point-in-time snapshot of the SQLite database using
VACUUM INTO. The snapshot is immediately usable without WAL/SHM files, which
makes it a safe copy to take before a large bulk import.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{NeedsDB: true, SkipMigrationCheck: true}, runDBSnapshot),
}

var dbSequencesCmd = &cobra.Command{
	Use:   "sequences",
	Short: "Check friendly-ID sequences for drift",
	Long: `Sequences compares each friendly-ID sequence (ORG-, IMP-) with the highest
ID already stored. A sequence behind its table would hand out a duplicate ID
and make inserts fail. Use --fix to advance drifted sequences.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runDBSequences),
}

var (
	dbSnapshotOut  string
	dbSnapshotJSON bool
	dbSequencesFix bool
)

type snapshotManifest struct {
	Timestamp      string `json:"timestamp"`
	SourceDBPath   string `json:"source_db_path"`
	SnapshotDBPath string `json:"snapshot_db_path"`
}

func init() {
	rootAdmCmd.AddCommand(dbAdmCmd)
	dbAdmCmd.AddCommand(dbSnapshotCmd)
	dbAdmCmd.AddCommand(dbSequencesCmd)

	dbSnapshotCmd.Flags().StringVar(&dbSnapshotOut, "out", "", "Output path for snapshot database (required)")
	dbSnapshotCmd.Flags().BoolVar(&dbSnapshotJSON, "json", false, "Output JSON manifest")
	dbSnapshotCmd.MarkFlagRequired("out")

	dbSequencesCmd.Flags().BoolVar(&dbSequencesFix, "fix", false, "Advance drifted sequences")
}

func runDBSnapshot(app *appctx.App, cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(dbSnapshotOut); err == nil {
		return exitError(1, fmt.Errorf("output file already exists: %s (remove it first or choose a different path)", dbSnapshotOut))
	}

	quoted := strings.ReplaceAll(dbSnapshotOut, "'", "''")
	if _, err := app.DB.ExecContext(cmd.Context(), fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		os.Remove(dbSnapshotOut)
		return exitError(1, fmt.Errorf("failed to create snapshot: %w", err))
	}

	manifest := snapshotManifest{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SourceDBPath:   app.Config.DBPath,
		SnapshotDBPath: dbSnapshotOut,
	}

	if dbSnapshotJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(manifest)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Created snapshot: %s\n", dbSnapshotOut)
	fmt.Fprintf(cmd.OutOrStdout(), "  Source: %s\n", app.Config.DBPath)
	fmt.Fprintf(cmd.OutOrStdout(), "  Timestamp: %s\n", manifest.Timestamp)
	fmt.Fprintf(cmd.OutOrStdout(), "\nTo use this snapshot:\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  export IATISYNC_DB_PATH=%s\n", dbSnapshotOut)

	return nil
}

func runDBSequences(app *appctx.App, cmd *cobra.Command, args []string) error {
	specs := db.DefaultSequenceSpecs()

	var (
		drifts []db.SequenceDrift
		err    error
	)
	if dbSequencesFix {
		drifts, err = db.FixSequenceDrifts(app.DB, specs)
	} else {
		drifts, err = db.SequenceDrifts(app.DB, specs)
	}
	if err != nil {
		return exitError(1, err)
	}

	if len(drifts) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "All sequences are in sync.")
		return nil
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	headers := []string{"SEQUENCE", "TABLE", "MAX_ID", "SEQ_VALUE"}
	rows := make([][]string, 0, len(drifts))
	items := make([]interface{}, 0, len(drifts))
	for _, d := range drifts {
		rows = append(rows, []string{d.SeqTable, d.EntityTable, strconv.Itoa(d.MaxID), strconv.Itoa(d.SeqValue)})
		items = append(items, d)
	}
	if err := r.Render(headers, rows, items); err != nil {
		return err
	}

	if dbSequencesFix {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Fixed %d sequence(s).\n", len(drifts))
		return nil
	}
	return exitError(3, fmt.Errorf("%d sequence(s) drifted; rerun with --fix", len(drifts)))
}
