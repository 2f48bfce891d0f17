package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geotrack",
	Short: "Location tracking agent for BeautyCita",
	Long:  "Manages the device location grant, keeps a tracking session alive, reports positions to the booking backend, and answers proximity queries against the Puerto Vallarta stylist registry.",
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
