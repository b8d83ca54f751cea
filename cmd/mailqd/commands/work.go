package commands

import (
	"github.com/spf13/cobra"
)

func newWorkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Args:  cobra.NoArgs,
		Short: "Run the delivery worker without the API server",
		RunE:  runWork,
	}
}

func runWork(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	s, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg, s, buildTransport(cfg), buildRecorder(cfg))
	if err != nil {
		return err
	}

	return dispatcher.Run(ctx)
}
