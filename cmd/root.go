package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "propsync",
	Short: "Condo transaction reconciliation and valuation",
	Long:  "Ingests condo sale transactions from URA, PropNex, screenshots and manual patches into one canonical store, and values units from comparable sales.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
