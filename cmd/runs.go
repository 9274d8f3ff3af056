package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/reconcile"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var missingCmd = &cobra.Command{
	Use:   "missing",
	Short: "List units whose fetch failed and may be retried",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source, _ := cmd.Flags().GetString("source")
		units, err := st.ListMissing(ctx, model.Source(source))
		if err != nil {
			return eris.Wrap(err, "missing")
		}
		if len(units) == 0 {
			fmt.Fprintln(os.Stderr, "No missing units.")
			return nil
		}
		formatMissingList(os.Stdout, units)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	missingCmd.Flags().String("source", "", "filter by source (ura, propnex, ocr, manual)")
	rootCmd.AddCommand(runsCmd, missingCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.IngestRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tSTARTED\tDURATION\tINSERTED\tUPDATED\tDROPPED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-------\t--------\t--------\t-------\t-------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		var rep reconcile.Report
		if len(r.Report) > 0 {
			_ = json.Unmarshal(r.Report, &rep)
		}

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Source,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			rep.Inserted,
			rep.Updated,
			rep.Dropped,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatMissingList writes the missing units table to w.
func formatMissingList(out io.Writer, units []model.MissingUnit) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tUNIT\tCLASS\tATTEMPTS\tLAST_SEEN\tERROR")
	for _, m := range units {
		errMsg := m.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			m.Source, m.Unit, m.ErrorClass, m.Attempts, m.LastSeen.Format("2006-01-02 15:04"), errMsg)
	}
	_ = w.Flush()
}
