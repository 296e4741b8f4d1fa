package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/bulk"
	"github.com/lherron/iatisync/internal/cli/appctx"
	"github.com/lherron/iatisync/internal/importer"
	"github.com/lherron/iatisync/internal/parse"
	"github.com/lherron/iatisync/internal/webhooks"
)

var importAdmCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import IATI activity request files",
	Long: `Import reconciles an IATI request file into its activity.

A request file is a JSON or YAML object with activityId, fields and iatiData.
With --dir, every *.json, *.yaml and *.yml file in the directory is imported
as a bulk run. Files for the same activity are serialized; other files run in
parallel up to --jobs.

Exit codes:
  0  every file imported
  5  partial success (some files failed)
  1  nothing imported`,
	Args: cobra.MaximumNArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runImportAdm),
}

var (
	importDir             string
	importFormat          string
	importJobs            int
	importContinueOnError bool
	importProgress        bool
)

func init() {
	rootAdmCmd.AddCommand(importAdmCmd)

	importAdmCmd.Flags().StringVar(&importDir, "dir", "", "Import every request file in this directory")
	importAdmCmd.Flags().StringVar(&importFormat, "format", "", "Request format: json|yaml (default: from extension, then detected)")
	importAdmCmd.Flags().IntVarP(&importJobs, "jobs", "j", 1, "Parallel workers for --dir (0 = number of CPUs)")
	importAdmCmd.Flags().BoolVar(&importContinueOnError, "continue-on-error", false, "Keep importing after a file fails")
	importAdmCmd.Flags().BoolVar(&importProgress, "progress", false, "Show a progress bar on a terminal")
}

func runImportAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	imp := newImporter(app)
	hooks := newDispatcher(app.Config, app.Log)

	if importDir != "" {
		if len(args) > 0 {
			return exitError(2, fmt.Errorf("use either a file argument or --dir, not both"))
		}
		return runBulkImport(cmd, imp, hooks, app.Actor, importDir)
	}
	if len(args) == 0 {
		return exitError(2, fmt.Errorf("a request file or --dir is required"))
	}

	resp, err := importFile(cmd.Context(), imp, app.Actor, args[0])
	if err != nil {
		return exitError(1, err)
	}
	if hooks.Enabled() {
		hooks.Dispatch(cmd.Context(), completionPayload(resp, filepath.Base(args[0])))
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}
	return r.RenderObject(resp, responseRows(resp))
}

// newImporter builds an importer from the app's config
func newImporter(app *appctx.App, opts ...importer.Option) *importer.Importer {
	base := []importer.Option{
		importer.WithLogger(app.Log),
		importer.WithActor(app.Actor),
		importer.WithProduction(app.Config.IsProduction()),
	}
	if len(app.Config.SupportedCurrencies) > 0 {
		base = append(base, importer.WithSupportedCurrencies(app.Config.SupportedCurrencies))
	}
	return importer.New(app.Store, append(base, opts...)...)
}

func importFile(ctx context.Context, imp *importer.Importer, actor, path string) (*importer.Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	format := importFormat
	if format == "" {
		format = string(parse.FormatFromPath(path))
	}
	req, err := parse.Request(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	req.Source = filepath.Base(path)
	req.Actor = actor

	return imp.Import(ctx, req)
}

func runBulkImport(cmd *cobra.Command, imp *importer.Importer, hooks *webhooks.Dispatcher, actor, dir string) error {
	files, err := requestFiles(dir)
	if err != nil {
		return exitError(1, err)
	}
	if len(files) == 0 {
		return exitError(1, fmt.Errorf("no request files found in %s", dir))
	}

	op := &bulk.Operation{
		Jobs:            importJobs,
		ContinueOnError: importContinueOnError,
		ShowProgress:    importProgress,
		Log:             cmd.ErrOrStderr(),
	}
	result := op.Execute(cmd.Context(), files, func(ctx context.Context, path string) error {
		resp, err := importFile(ctx, imp, actor, path)
		if err != nil {
			return err
		}
		if hooks.Enabled() {
			hooks.Dispatch(ctx, completionPayload(resp, filepath.Base(path)))
		}
		if resp.Summary.SyncStatus != "success" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%s)\n", path, resp.Summary.SyncStatus, resp.ImportLogID)
		}
		return nil
	})

	result.PrintSummary(cmd.ErrOrStderr())
	if code := result.ExitCode(); code != 0 {
		return exitError(code, fmt.Errorf("%d of %d imports failed", result.Failed, result.TotalItems))
	}
	return nil
}

// requestFiles lists request files in dir, sorted by name
func requestFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if parse.FormatFromPath(e.Name()) == "" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func responseRows(resp *importer.Response) [][]string {
	s := resp.Summary
	return [][]string{
		{"activity", resp.ActivityID},
		{"import_log", resp.ImportLogID},
		{"sync_status", s.SyncStatus},
		{"last_sync_time", s.LastSyncTime},
		{"fields_updated", strings.Join(resp.FieldsUpdated, ",")},
		{"fields_requested", strconv.Itoa(s.FieldsRequested)},
		{"sectors_updated", strconv.Itoa(s.SectorsUpdated)},
		{"organizations_updated", strconv.Itoa(s.OrganizationsUpdated)},
		{"transactions_added", strconv.Itoa(s.TransactionsAdded)},
		{"budgets_added", strconv.Itoa(s.BudgetsAdded)},
		{"planned_disbursements_added", strconv.Itoa(s.PlannedDisbursementsAdded)},
		{"policy_markers_added", strconv.Itoa(s.PolicyMarkersAdded)},
		{"related_activities_linked", strconv.Itoa(s.RelatedActivitiesLinked)},
		{"organizations_created", strconv.Itoa(s.OrganizationsCreated)},
		{"organizations_linked", strconv.Itoa(s.OrganizationsLinked)},
		{"warnings", strconv.Itoa(len(resp.Warnings))},
	}
}
