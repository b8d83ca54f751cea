package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odiseohq/mailqd/job"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Args:  cobra.NoArgs,
		Short: "Print queue depth per status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	counts, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	for _, st := range job.Statuses() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", st, counts[st])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", "total", counts.Total())
	return nil
}
