package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	historypg "github.com/okulov/passport/history/postgres"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired login history entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.HistoryDSN == "" {
			return errors.New("history_dsn must be set to prune history")
		}

		pg, err := historypg.NewFromDSN(cmd.Context(), cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to history database: %w", err)
		}
		defer pg.Close()

		removed, err := pg.Prune(cmd.Context(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Printf("Pruned %d expired logins\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
