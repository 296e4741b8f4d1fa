package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootAdmCmd = &cobra.Command{
	Use:   "iatisyncadm",
	Short: "Administrative CLI for IATI activity imports",
	Long: `iatisyncadm reconciles IATI activity payloads into the local database.
It runs single or bulk imports, inspects the import audit trail, maintains
exchange rates, and handles database lifecycle (migrate, snapshot,
sequence repair).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteAdmin runs the admin root command. The returned error may carry an
// exit code; see ExitCode.
func ExecuteAdmin() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootAdmCmd.ExecuteContext(ctx)
}

func init() {
	rootAdmCmd.PersistentFlags().String("db", "", "Path to database file (overrides IATISYNC_DB_PATH)")
	rootAdmCmd.PersistentFlags().String("as", "", "Actor recorded on import logs (overrides IATISYNC_ACTOR)")
	rootAdmCmd.PersistentFlags().StringP("output", "o", "", "Output format: table|json|ndjson|yaml|tsv (overrides IATISYNC_OUTPUT)")
	rootAdmCmd.PersistentFlags().Bool("porcelain", false, "Stable machine-readable table output")
}
