package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/export"
	"github.com/hartproperty/propsync/internal/feeds"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/ocr"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/internal/store"
	"github.com/hartproperty/propsync/pkg/anthropic"
	"github.com/hartproperty/propsync/pkg/propnex"
	"github.com/hartproperty/propsync/pkg/ura"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Reconcile a transaction source into the canonical store",
}

// runFeed runs feed over units and prints the report as JSON.
func runFeed(cmd *cobra.Command, st store.Store, feed reconcile.Feed, units []string) error {
	if len(units) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to ingest.")
		return nil
	}
	report, err := newDriver(st).Run(cmd.Context(), feed, units)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	return err
}

var ingestURACmd = &cobra.Command{
	Use:   "ura",
	Short: "Ingest URA private residential transactions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("ura"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := ura.NewClient(cfg.URA.AccessKey,
			ura.WithBaseURL(cfg.URA.BaseURL),
			ura.WithTokenURL(cfg.URA.TokenURL),
			ura.WithRateLimit(cfg.URA.RateLimit),
		)

		units := feeds.RangeUnits(1, cfg.URA.Batches)
		if retry, _ := cmd.Flags().GetBool("retry-missing"); retry {
			if units, err = feeds.MissingUnits(ctx, st, model.SourceGovernment); err != nil {
				return eris.Wrap(err, "ingest ura: list missing")
			}
		}
		return runFeed(cmd, st, feeds.NewURAFeed(client, st), units)
	},
}

var ingestPropNexCmd = &cobra.Command{
	Use:   "propnex",
	Short: "Ingest PropNex project transactions and rentals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("propnex"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := propnex.NewClient(cfg.PropNex.Token,
			propnex.WithBaseURL(cfg.PropNex.BaseURL),
			propnex.WithRateLimit(cfg.PropNex.RateLimit),
			propnex.WithLookback(cfg.PropNex.LookbackYears),
		)

		start, end := cfg.PropNex.ProjectStart, cfg.PropNex.ProjectEnd
		if cmd.Flags().Changed("start") {
			start, _ = cmd.Flags().GetInt("start")
		}
		if cmd.Flags().Changed("end") {
			end, _ = cmd.Flags().GetInt("end")
		}
		units := feeds.RangeUnits(start, end)
		if retry, _ := cmd.Flags().GetBool("retry-missing"); retry {
			if units, err = feeds.MissingUnits(ctx, st, model.SourceBrokerage); err != nil {
				return eris.Wrap(err, "ingest propnex: list missing")
			}
		}
		return runFeed(cmd, st, feeds.NewPropNexFeed(client, st), units)
	},
}

var ingestOCRCmd = &cobra.Command{
	Use:   "ocr <dir> <condo>",
	Short: "Extract and ingest transaction screenshots for one condo",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("ocr"); err != nil {
			return err
		}
		ctx := cmd.Context()
		dir, condo := args[0], args[1]

		images, err := feeds.ImageUnits(dir)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		vision := ocr.NewVision(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
		feed := feeds.NewOCRFeed(vision, st, condo, cfg.Anthropic.Concurrency)
		feed.Prefetch(ctx, images)

		runErr := runFeed(cmd, st, feed, images)

		auditPath, _ := cmd.Flags().GetString("audit")
		if auditPath == "" {
			auditPath = filepath.Join(dir, "ocr_audit.csv")
		}
		if err := writeAudit(auditPath, feed.Audit()); err != nil {
			zap.L().Error("write ocr audit", zap.String("path", auditPath), zap.Error(err))
		} else {
			zap.L().Info("ocr audit written", zap.String("path", auditPath))
		}
		return runErr
	},
}

func writeAudit(path string, entries []feeds.AuditEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := export.WriteAuditCSV(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var ingestManualCmd = &cobra.Command{
	Use:   "manual <patch.yaml>...",
	Short: "Apply manual transaction patches",
	Long:  "Each file holds a YAML list of patches. Patches with an id edit that row; patches without one are reconciled as manual candidates.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runFeed(cmd, st, feeds.NewManualFeed(st), args)
	},
}

func init() {
	ingestURACmd.Flags().Bool("retry-missing", false, "only retry batches on the missing list")

	ingestPropNexCmd.Flags().Int("start", 0, "first project id (default from config)")
	ingestPropNexCmd.Flags().Int("end", 0, "last project id (default from config)")
	ingestPropNexCmd.Flags().Bool("retry-missing", false, "only retry projects on the missing list")

	ingestOCRCmd.Flags().String("audit", "", "audit CSV path (default <dir>/ocr_audit.csv)")

	ingestCmd.AddCommand(ingestURACmd, ingestPropNexCmd, ingestOCRCmd, ingestManualCmd)
	rootCmd.AddCommand(ingestCmd)
}
