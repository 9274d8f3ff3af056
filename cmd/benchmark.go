package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hartproperty/propsync/internal/valuation"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Show the current SORA benchmark and an indicative repayment range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		snap, err := newBenchmark().Get(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "1M SORA:\t%.4f%%\n", snap.OneMonth)
		_, _ = fmt.Fprintf(w, "6M SORA:\t%.4f%%\n", snap.SixMonth)
		if snap.AsAt != nil {
			_, _ = fmt.Fprintf(w, "As at:\t%s\n", snap.AsAt.Format("2006-01-02"))
		}
		if price, _ := cmd.Flags().GetFloat64("price"); price > 0 {
			principal := price * valuation.LoanToValue
			low, high := snap.RepaymentRange(principal, valuation.TenureMonths)
			_, _ = fmt.Fprintf(w, "Loan:\t%.0f\n", principal)
			_, _ = fmt.Fprintf(w, "Monthly repayment:\t%.2f - %.2f\n", low, high)
		}
		return w.Flush()
	},
}

func init() {
	benchmarkCmd.Flags().Float64("price", 0, "property price for the repayment range")
	rootCmd.AddCommand(benchmarkCmd)
}
