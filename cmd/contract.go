package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yarlson/lever/internal/contextpack"
	"github.com/yarlson/lever/internal/run"
)

func newContractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contract",
		Short: "Check the context pack builder",
		Long: `Run the configured pack builder with --version and build --help and confirm
it accepts every flag lever passes when compiling context.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContract(cmd)
		},
	}
}

func runContract(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return configError(err)
	}

	if err := contextpack.CheckContract(cmd.Context(), cfg.Context.AssemblyPath); err != nil {
		var contractErr *contextpack.ContractError
		if errors.As(err, &contractErr) && contractErr.NotFound {
			return configError(err)
		}
		return &ExitError{Code: run.ExitContextFailed, Err: err}
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s satisfies pack builder contract %s\n",
		cfg.Context.AssemblyPath, contextpack.ContractVersion)
	return nil
}
