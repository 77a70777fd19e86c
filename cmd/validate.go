package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/lever/internal/taskstore"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the task file",
		Long: `Check every task in the task file: unique IDs, known statuses, run metadata
on unfinished tasks, and models from the configured allow-list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd)
		},
	}
}

func runValidate(cmd *cobra.Command) error {
	cfg, store, _, err := openTasks(cmd)
	if err != nil {
		return configError(err)
	}

	tasks, err := store.List()
	if err != nil {
		return configError(fmt.Errorf("failed to read tasks: %w", err))
	}

	result := taskstore.LintTasks(tasks, cfg.Agent.Models)
	out := cmd.OutOrStdout()

	for _, w := range result.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, e := range result.Errors {
		_, _ = fmt.Fprintf(out, "error: %s\n", e)
	}

	if !result.Valid {
		return configError(errors.New("task file is invalid"))
	}

	_, _ = fmt.Fprintf(out, "%s: %d task(s) OK\n", store.Path(), len(tasks))
	return nil
}
