package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/cli/appctx"
	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/store"
)

var ratesAdmCmd = &cobra.Command{
	Use:   "rates",
	Short: "Manage currency-to-USD exchange rates",
	Long: `Commands for the dated exchange rates used to compute USD values of
transactions, budgets and planned disbursements. A conversion uses the most
recent rate on or before the value date.`,
}

var ratesSetCmd = &cobra.Command{
	Use:   "set <currency> <date> <rate>",
	Short: "Set the USD rate for a currency on a date",
	Long: `Set stores the multiplier that converts one unit of <currency> into USD on
<date> (YYYY-MM-DD). An existing rate for the same currency and date is
replaced.`,
	Example: `  iatisyncadm rates set EUR 2024-01-01 1.1`,
	Args:    cobra.ExactArgs(3),
	RunE:    appctx.WithApp(appctx.DefaultOptions(), runRatesSet),
}

var ratesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored exchange rates",
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runRatesList),
}

var (
	ratesSource   string
	ratesCurrency string
)

func init() {
	rootAdmCmd.AddCommand(ratesAdmCmd)
	ratesAdmCmd.AddCommand(ratesSetCmd)
	ratesAdmCmd.AddCommand(ratesListCmd)

	ratesSetCmd.Flags().StringVar(&ratesSource, "source", "manual", "Where the rate came from")
	ratesListCmd.Flags().StringVar(&ratesCurrency, "currency", "", "Only rates for this currency")
}

func runRatesSet(app *appctx.App, cmd *cobra.Command, args []string) error {
	code := strings.ToUpper(strings.TrimSpace(args[0]))
	if !currency.Known(code) {
		return exitError(2, fmt.Errorf("unknown ISO 4217 currency: %s", args[0]))
	}
	if _, err := time.Parse("2006-01-02", args[1]); err != nil {
		return exitError(2, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", args[1]))
	}
	rate, err := decimal.NewFromString(args[2])
	if err != nil || !rate.IsPositive() {
		return exitError(2, fmt.Errorf("invalid rate %q (want a positive decimal)", args[2]))
	}

	err = app.Store.ExchangeRates.Set(cmd.Context(), store.ExchangeRate{
		Currency:  code,
		Date:      args[1],
		RateToUSD: rate,
		Source:    ratesSource,
	})
	if err != nil {
		return exitError(1, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s on %s = %s USD\n", code, args[1], rate.String())
	return nil
}

func runRatesList(app *appctx.App, cmd *cobra.Command, args []string) error {
	rates, err := app.Store.ExchangeRates.List(cmd.Context(), strings.ToUpper(ratesCurrency))
	if err != nil {
		return exitError(1, err)
	}

	r, err := newRenderer(app, cmd)
	if err != nil {
		return err
	}

	headers := []string{"CURRENCY", "DATE", "RATE_TO_USD", "SOURCE"}
	rows := make([][]string, 0, len(rates))
	items := make([]interface{}, 0, len(rates))
	for _, rate := range rates {
		rows = append(rows, []string{rate.Currency, rate.Date, rate.RateToUSD.String(), rate.Source})
		items = append(items, rate)
	}
	return r.Render(headers, rows, items)
}
