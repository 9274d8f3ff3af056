package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hartproperty/propsync/internal/valuation"
)

var valueCmd = &cobra.Command{
	Use:   "value <condo> <unit>",
	Short: "Value a unit from comparable sales",
	Long:  "Prints the valuation as JSON. Without --sqft the unit size is looked up from stored sales.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()
		condo, unit := args[0], args[1]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := []valuation.Option{}
		if noBench, _ := cmd.Flags().GetBool("no-benchmark"); !noBench {
			opts = append(opts, valuation.WithBenchmark(newBenchmark()))
		}
		svc := valuation.NewService(st, opts...)

		info, err := svc.UnitInfo(ctx, condo, unit)
		if err != nil {
			return err
		}
		sqft, _ := cmd.Flags().GetFloat64("sqft")
		if sqft <= 0 {
			if info.Sqft == nil {
				return eris.Errorf("value: no unique size on record for %s %s, pass --sqft", condo, unit)
			}
			sqft = *info.Sqft
		}

		res, err := svc.Value(ctx, valuation.Query{CondoName: condo, Floor: info.Floor, Sqft: sqft})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	valueCmd.Flags().Float64("sqft", 0, "unit size in sqft (default: looked up)")
	valueCmd.Flags().Bool("no-benchmark", false, "skip the SORA benchmark lookup")
	rootCmd.AddCommand(valueCmd)
}
