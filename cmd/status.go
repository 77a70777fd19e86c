package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/lever/internal/reporter"
	"github.com/yarlson/lever/internal/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task progress",
		Long:  "Display task counts, the next task in line, and the outcome of the last loop cycle.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	_, store, workDir, err := openTasks(cmd)
	if err != nil {
		return configError(err)
	}

	generator := reporter.NewStatusGenerator(store, store.Path(), state.LoopDirPath(workDir))

	status, err := generator.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), reporter.FormatStatus(status))

	return nil
}
