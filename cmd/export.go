package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <condo>",
	Short: "Export a condo's canonical transactions to CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if format != export.FormatCSV && format != export.FormatXLSX {
			return eris.Errorf("export: --format must be csv or xlsx (got %q)", format)
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.TransactionsForCondo(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "export: create %s", output)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := export.Write(w, format, rows); err != nil {
			return err
		}
		zap.L().Info("export complete", zap.String("condo", args[0]), zap.Int("rows", len(rows)))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", export.FormatCSV, "output format: csv or xlsx")
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}
