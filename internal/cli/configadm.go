package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/cli/appctx"
	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/db"
)

var configAdmCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration introspection",
	Long:  `Commands for inspecting and validating configuration.`,
}

var configDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Show effective configuration and validate settings",
	Long: `Displays the effective configuration values and their sources, and validates
the database, logging, currency and daemon settings. Exits non-zero when a
setting is invalid.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{}, runConfigDoctor),
}

var configDoctorJSON bool

type configValue struct {
	Value  string `json:"value"`
	Source string `json:"source"`
	Valid  bool   `json:"valid"`
	Note   string `json:"note,omitempty"`
}

type configDoctorReport struct {
	Config   map[string]configValue `json:"config"`
	Warnings []string               `json:"warnings"`
}

func (r *configDoctorReport) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *configDoctorReport) valid() bool {
	for _, v := range r.Config {
		if !v.Valid {
			return false
		}
	}
	return true
}

func init() {
	rootAdmCmd.AddCommand(configAdmCmd)
	configAdmCmd.AddCommand(configDoctorCmd)

	configDoctorCmd.Flags().BoolVar(&configDoctorJSON, "json", false, "Output as JSON")
}

// source names where a setting came from
func source(cmd *cobra.Command, flag string, envVars ...string) string {
	if flag != "" {
		if f := cmd.Flag(flag); f != nil && f.Changed {
			return "command-line flag --" + flag
		}
	}
	for _, name := range envVars {
		if os.Getenv(name) != "" {
			return "environment variable " + name
		}
	}
	return "config file or default"
}

func runConfigDoctor(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := app.Config
	report := &configDoctorReport{Config: map[string]configValue{}, Warnings: []string{}}

	report.Config["db_path"] = checkDatabase(report, cfg.DBPath,
		source(cmd, "db", "IATISYNC_DB_PATH", "IATISYNC_DB_PATH_FILE"))

	level := configValue{Value: cfg.LogLevel, Source: source(cmd, "", "IATISYNC_LOG_LEVEL"), Valid: true}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		level.Valid = false
		level.Note = err.Error()
	}
	report.Config["log_level"] = level

	if cfg.LogFile != "" {
		file := configValue{Value: cfg.LogFile, Source: source(cmd, "", "IATISYNC_LOG_FILE"), Valid: true, Note: "rotated at 50MB, 5 backups"}
		if info, err := os.Stat(filepath.Dir(cfg.LogFile)); err == nil && !info.IsDir() {
			file.Valid = false
			file.Note = "parent path is not a directory"
		}
		report.Config["log_file"] = file
	}

	env := configValue{Value: cfg.Environment, Source: source(cmd, "", "IATISYNC_ENV"), Valid: true}
	if cfg.IsProduction() {
		env.Note = "stack traces withheld from error details"
	}
	report.Config["environment"] = env

	report.Config["actor"] = configValue{Value: app.Actor, Source: source(cmd, "as", "IATISYNC_ACTOR"), Valid: true}

	currencies := configValue{Source: source(cmd, "", "IATISYNC_SUPPORTED_CURRENCIES"), Valid: true}
	if len(cfg.SupportedCurrencies) == 0 {
		currencies.Value = "(default list)"
	} else {
		currencies.Value = strings.Join(cfg.SupportedCurrencies, ",")
		var unknown []string
		for _, code := range cfg.SupportedCurrencies {
			if !currency.Known(code) {
				unknown = append(unknown, code)
			}
		}
		if len(unknown) > 0 {
			currencies.Valid = false
			currencies.Note = "unknown ISO 4217 codes: " + strings.Join(unknown, ",")
		}
	}
	report.Config["supported_currencies"] = currencies

	report.Config["daemon_addr"] = configValue{Value: cfg.DaemonAddr, Source: source(cmd, "", "IATISYNCD_ADDR"), Valid: true}
	token := configValue{Value: "(set)", Source: source(cmd, "", "IATISYNCD_TOKEN"), Valid: true}
	if cfg.DaemonToken == "" {
		token.Value = "(not set)"
		report.warn("IATISYNCD_TOKEN is not set - iatisyncd will accept unauthenticated requests")
	}
	report.Config["daemon_token"] = token

	hooks := configValue{Value: "(none)", Source: source(cmd, "", "IATISYNC_WEBHOOK_URLS"), Valid: true}
	if len(cfg.WebhookURLs) > 0 {
		hooks.Value = strings.Join(cfg.WebhookURLs, ",")
		for _, raw := range cfg.WebhookURLs {
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				hooks.Valid = false
				hooks.Note = fmt.Sprintf("invalid webhook url %q", raw)
				break
			}
		}
	}
	report.Config["webhook_urls"] = hooks

	if configDoctorJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return err
		}
	} else {
		printConfigReport(cmd.OutOrStdout(), report)
	}

	if !report.valid() {
		return exitError(1, fmt.Errorf("configuration has invalid settings"))
	}
	return nil
}

func checkDatabase(report *configDoctorReport, path, src string) configValue {
	v := configValue{Value: path, Source: src}
	if _, err := os.Stat(path); err != nil {
		v.Note = "File does not exist"
		report.warn("Database file does not exist - run 'iatisyncadm migrate' to create it")
		return v
	}

	database, err := db.Open(path)
	if err != nil {
		v.Note = fmt.Sprintf("File exists but failed to open: %v", err)
		return v
	}
	defer database.Close()

	var journalMode string
	database.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if journalMode != "wal" {
		report.warn("Database is not in WAL mode")
	}

	applied, pending, err := database.MigrationStatus()
	if err != nil {
		v.Note = fmt.Sprintf("failed to read migration status: %v", err)
		return v
	}
	v.Valid = true
	v.Note = fmt.Sprintf("%d migration(s) applied", len(applied))
	if len(pending) > 0 {
		report.warn("%d pending migration(s) - run 'iatisyncadm migrate'", len(pending))
	}
	return v
}

func printConfigReport(out io.Writer, report *configDoctorReport) {
	fmt.Fprintln(out, "Configuration Report")
	fmt.Fprintln(out, "====================")
	fmt.Fprintln(out)

	keys := make([]string, 0, len(report.Config))
	for k := range report.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := report.Config[k]
		fmt.Fprintf(out, "%s: %s\n", k, v.Value)
		fmt.Fprintf(out, "    Source: %s\n", v.Source)
		switch {
		case v.Valid && v.Note != "":
			fmt.Fprintf(out, "    Status: ✓ %s\n", v.Note)
		case v.Valid:
			fmt.Fprintln(out, "    Status: ✓ Valid")
		default:
			fmt.Fprintf(out, "    Status: ✗ %s\n", v.Note)
		}
	}
	fmt.Fprintln(out)

	if len(report.Warnings) == 0 {
		fmt.Fprintln(out, "✓ No warnings")
		return
	}
	fmt.Fprintln(out, "Warnings:")
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "  ⚠  %s\n", w)
	}
}
