package cli

import (
	"errors"
	"fmt"

	"github.com/cloo-solutions/ctirag/internal/config"
	"github.com/cloo-solutions/ctirag/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd(rt *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.HasDatabase() {
				return errors.New("CTIRAG_DATABASE_URL is required")
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			return database.Migrate(cfg.DatabaseURL, dir, rt.logger)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Migrations directory (default CTIRAG_MIGRATIONS_DIR)")

	return cmd
}
