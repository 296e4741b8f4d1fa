package cli

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/cli/appctx"
	"github.com/lherron/iatisync/internal/config"
	"github.com/lherron/iatisync/internal/importer"
	"github.com/lherron/iatisync/internal/render"
	"github.com/lherron/iatisync/internal/webhooks"
)

// ExitError carries a process exit code alongside the error
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode returns the exit code for err: 0 for nil, the carried code for
// an ExitError, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return 1
}

// newRenderer builds a renderer from --output/--porcelain, falling back to
// the configured output format.
func newRenderer(app *appctx.App, cmd *cobra.Command) (*render.Renderer, error) {
	value := app.Config.Output
	if f := cmd.Flag("output"); f != nil && f.Value.String() != "" {
		value = f.Value.String()
	}
	format, err := render.ParseFormat(value)
	if err != nil {
		return nil, exitError(2, err)
	}

	porcelain := false
	if f := cmd.Flag("porcelain"); f != nil {
		porcelain = f.Value.String() == "true"
	}

	return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format, Porcelain: porcelain}), nil
}

// newDispatcher builds the import-completion webhook dispatcher, or nil
// when no targets are configured.
func newDispatcher(cfg *config.Config, log *logrus.Logger) *webhooks.Dispatcher {
	if len(cfg.WebhookURLs) == 0 {
		return nil
	}
	return webhooks.New(cfg.WebhookURLs, webhooks.WithLogger(log))
}

func completionPayload(resp *importer.Response, source string) webhooks.Payload {
	return webhooks.Payload{
		Event:         "import.completed",
		ImportLogID:   resp.ImportLogID,
		ActivityID:    resp.ActivityID,
		Status:        resp.Summary.SyncStatus,
		FieldsUpdated: resp.FieldsUpdated,
		HasWarnings:   resp.Summary.HasWarnings,
		Source:        source,
		SyncTime:      resp.Summary.LastSyncTime,
	}
}
