package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odiseohq/mailqd/store/postgres"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Args:  cobra.NoArgs,
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations require the postgres driver, got %q", cfg.Database.Driver)
	}

	ctx := cmd.Context()
	s, err := postgres.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Migrate(ctx)
}
