package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/cli/appctx"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/id"
	"github.com/lherron/iatisync/internal/store"
)

var logsAdmCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the import audit trail",
	Long:  `Commands for listing and inspecting import log entries. Entries are append-only and listed newest first.`,
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import log entries",
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runLogsList),
}

var logsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one import log entry",
	Long: `Show prints an import log entry by friendly ID (IMP-00001) or UUID.

With --diff, prints a unified diff of the entry's previous and updated
scalar values instead.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runLogsShow),
}

var (
	logsActivity string
	logsStatus   string
	logsLimit    int
	logsCursor   string
	logsDiff     bool
)

func init() {
	rootAdmCmd.AddCommand(logsAdmCmd)
	logsAdmCmd.AddCommand(logsListCmd)
	logsAdmCmd.AddCommand(logsShowCmd)

	logsListCmd.Flags().StringVar(&logsActivity, "activity", "", "Only entries for this activity")
	logsListCmd.Flags().StringVar(&logsStatus, "status", "", "Only entries with this status (success|partial|failed)")
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 50, "Maximum entries per page")
	logsListCmd.Flags().StringVar(&logsCursor, "cursor", "", "Cursor from a previous page")

	logsShowCmd.Flags().BoolVar(&logsDiff, "diff", false, "Show a unified diff of previous and updated values")
}

func runLogsList(app *appctx.App, cmd *cobra.Command, args []string) error {
	entries, next, err := app.Store.ImportLogs.List(cmd.Context(), store.ListOptions{
		ActivityID: logsActivity,
		Status:     logsStatus,
		Limit:      logsLimit,
		Cursor:     logsCursor,
	})
	if err != nil {
		if domain.IsCode(err, domain.CodeInvalidRequest) {
			return exitError(2, err)
		}
		return exitError(1, err)
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}

	headers := []string{"ID", "ACTIVITY", "STATUS", "FILE", "FIELDS", "ROWS", "WARNINGS", "DATE"}
	rows := make([][]string, 0, len(entries))
	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID,
			e.ActivityID,
			string(e.Status),
			e.FileName,
			strings.Join(e.FieldsUpdated, ","),
			fmt.Sprintf("%d/%d", e.SuccessfulRows, e.TotalRows),
			strconv.Itoa(len(e.Warnings)),
			e.ImportDate,
		})
		items = append(items, e)
	}
	if err := r.Render(headers, rows, items); err != nil {
		return err
	}

	if next != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "next cursor: %s\n", next)
	}
	return nil
}

func runLogsShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	if !id.IsImportRef(args[0]) {
		return exitError(2, fmt.Errorf("invalid import log id %q (want IMP-nnnnn or a UUID)", args[0]))
	}

	entry, err := app.Store.ImportLogs.Get(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return exitError(1, fmt.Errorf("import log not found: %s", args[0]))
		}
		return exitError(1, err)
	}

	if logsDiff {
		diff, err := valuesDiff(entry)
		if err != nil {
			return exitError(1, err)
		}
		if diff == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No scalar changes.")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), diff)
		return nil
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	return r.RenderObject(entry, entryRows(entry))
}

// valuesDiff renders a unified diff between an entry's previous and
// updated values, pretty-printed so each key sits on its own line.
func valuesDiff(e *domain.ImportLog) (string, error) {
	previous, err := prettyJSON(e.PreviousValues)
	if err != nil {
		return "", fmt.Errorf("invalid previous values: %w", err)
	}
	updated, err := prettyJSON(e.UpdatedValues)
	if err != nil {
		return "", fmt.Errorf("invalid updated values: %w", err)
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(updated),
		FromFile: e.ID + " previous",
		ToFile:   e.ID + " updated",
		Context:  3,
	})
}

func prettyJSON(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return "", err
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}

func entryRows(e *domain.ImportLog) [][]string {
	rows := [][]string{
		{"id", e.ID},
		{"uuid", e.UUID},
		{"activity", e.ActivityID},
		{"entity_type", e.EntityType},
		{"file", e.FileName},
		{"status", string(e.Status)},
		{"date", e.ImportDate},
		{"fields_requested", strings.Join(e.FieldsRequested, ",")},
		{"fields_updated", strings.Join(e.FieldsUpdated, ",")},
		{"rows", fmt.Sprintf("%d total, %d ok, %d failed", e.TotalRows, e.SuccessfulRows, e.FailedRows)},
	}
	if e.Actor != nil {
		rows = append(rows, []string{"actor", *e.Actor})
	}
	if e.ErrorMessage != nil {
		rows = append(rows, []string{"error", *e.ErrorMessage})
	}
	for i, w := range e.Warnings {
		rows = append(rows, []string{fmt.Sprintf("warning[%d]", i), fmt.Sprintf("%s: %s", w.Type, w.Message)})
	}
	return rows
}
