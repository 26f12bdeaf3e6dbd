package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexconsult/consult-control-plane/internal/billing"
)

func newCostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Price an elapsed duration under a pricing mode",
		Args:  cobra.NoArgs,
		RunE:  runCost,
	}
	cmd.Flags().String("mode", "flat", "pricing mode: flat|fixed_fee")
	cmd.Flags().Float64("rate", 0, "rate per minute")
	cmd.Flags().Float64("fee", 0, "fixed fee (fixed_fee mode)")
	cmd.Flags().Int("elapsed", 0, "elapsed live seconds")
	cmd.Flags().Float64("balance", 0, "client balance; enables the balance checks")
	cmd.Flags().String("currency", billing.DefaultCurrency, "currency symbol")
	return cmd
}

func runCost(cmd *cobra.Command, _ []string) error {
	rawMode, _ := cmd.Flags().GetString("mode")
	rate, _ := cmd.Flags().GetFloat64("rate")
	fee, _ := cmd.Flags().GetFloat64("fee")
	elapsed, _ := cmd.Flags().GetInt("elapsed")
	balance, _ := cmd.Flags().GetFloat64("balance")
	currency, _ := cmd.Flags().GetString("currency")

	mode, err := billing.ParseMode(rawMode)
	if err != nil {
		return err
	}
	if elapsed < 0 || rate < 0 || fee < 0 {
		return fmt.Errorf("elapsed, rate and fee must not be negative")
	}
	p := billing.NewPolicy(mode, rate, fee)
	cost := p.Cost(elapsed)

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Elapsed:  %s\n", billing.FormatClock(elapsed))
	_, _ = fmt.Fprintf(out, "Billable: %ds\n", p.BillableSeconds(elapsed))
	_, _ = fmt.Fprintf(out, "Cost:     %s\n", billing.FormatAmount(currency, cost))
	if balance > 0 {
		remaining := balance - cost
		state := "ok"
		switch {
		case cost >= balance:
			state = "exhausted"
		case p.LowBalance(remaining):
			state = "low"
		}
		_, _ = fmt.Fprintf(out, "Balance:  %s remaining (%s)\n", billing.FormatAmount(currency, remaining), state)
	}
	return nil
}
