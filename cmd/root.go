package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yarlson/lever/internal/config"
	"github.com/yarlson/lever/internal/contextpack"
	"github.com/yarlson/lever/internal/logging"
	"github.com/yarlson/lever/internal/loop"
	"github.com/yarlson/lever/internal/run"
	"github.com/yarlson/lever/internal/runner"
	"github.com/yarlson/lever/internal/taskstore"
)

var cfgFile string

// GetConfigFile returns the config file path from the flag.
func GetConfigFile() string {
	return cfgFile
}

// Root command flags
var (
	rootTasks            string
	rootPrompt           string
	rootTaskID           string
	rootNext             bool
	rootResetTask        bool
	rootLoop             int
	rootDelay            string
	rootWorkspace        string
	rootContextCompile   bool
	rootNoContextCompile bool
	rootContextPolicy    string
	rootLogLevel         string
	rootLogFormat        string
	rootVerbose          bool
)

// ExitError carries a process exit code out of a command. A nil Err means
// the outcome was already reported and nothing more is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// configError marks err as a configuration failure.
func configError(err error) error {
	return &ExitError{Code: run.ExitConfig, Err: err}
}

// NewRootCmd creates the root command for the lever CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lever",
		Short: "Drive a coding agent through a task file, one verified run at a time",
		Long: `Lever runs a coding agent against the first unfinished task in a JSON task
file. Each run happens on its own branch; a verified result is squashed onto the
base branch and the task file records the outcome.

Without --loop a single run is made and its exit code is returned. --loop keeps
going until no task is left or a run needs attention; --loop=N caps the cycles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runRoot,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: lever.yaml in the workspace, then ~/.config/lever/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootWorkspace, "workspace", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&rootTasks, "tasks", "", "task file (default: prd.json, then tasks.json in the workspace)")

	flags := rootCmd.Flags()
	flags.StringVar(&rootPrompt, "prompt", "", "base prompt file")
	flags.StringVar(&rootTaskID, "task-id", "", "run this task; it must be first in line")
	flags.BoolVar(&rootNext, "next", false, "run the first task that is not completed")
	flags.BoolVar(&rootResetTask, "reset-task", false, "reset the attempts of --task-id before running")
	flags.IntVar(&rootLoop, "loop", 0, "keep running (--loop or --loop=0 until done, --loop=N at most N runs)")
	flags.Lookup("loop").NoOptDefVal = "0"
	flags.StringVar(&rootDelay, "delay", "", "pause between loop runs, in seconds or as a duration (requires --loop)")
	flags.BoolVar(&rootContextCompile, "context-compile", false, "compile a context pack for each run")
	flags.BoolVar(&rootNoContextCompile, "no-context-compile", false, "disable context compilation")
	flags.StringVar(&rootContextPolicy, "context-policy", "", "context compile failure policy (best-effort or required)")
	flags.StringVar(&rootLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&rootLogFormat, "log-format", "", "log format (auto, text, json)")
	flags.BoolVarP(&rootVerbose, "verbose", "v", false, "echo agent commands and reasoning")

	rootCmd.MarkFlagsMutuallyExclusive("next", "task-id")
	rootCmd.MarkFlagsMutuallyExclusive("context-compile", "no-context-compile")
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		switch name {
		case "loop-count":
			name = "loop"
		case "context-failure-policy":
			name = "context-policy"
		}
		return pflag.NormalizedName(name)
	})

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newContractCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	looping := flags.Changed("loop")

	if rootLoop < 0 {
		return configError(fmt.Errorf("--loop must not be negative, got %d", rootLoop))
	}
	if flags.Changed("delay") && !looping {
		return configError(errors.New("--delay requires --loop"))
	}
	if rootResetTask && rootTaskID == "" {
		return configError(errors.New("--reset-task requires --task-id"))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return configError(err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return configError(err)
	}

	loopOpts := loop.Options{Delay: cfg.Loop.Delay}
	if looping {
		count := rootLoop
		loopOpts.Count = &count
	}
	if flags.Changed("delay") {
		d, err := parseDelay(rootDelay)
		if err != nil {
			return configError(err)
		}
		loopOpts.Delay = d
	}

	session, err := runner.Prepare(cfg, runner.Options{
		Workspace:  rootWorkspace,
		TasksPath:  rootTasks,
		PromptPath: rootPrompt,
		Request: run.Request{
			TaskID:    rootTaskID,
			Next:      rootNext,
			ResetTask: rootResetTask,
		},
		Loop:    loopOpts,
		Verbose: rootVerbose,
	}, logger, cmd.ErrOrStderr())
	if err != nil {
		return configError(err)
	}

	if code := session.Run(cmd.Context(), cmd.OutOrStdout()); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// loadConfig loads the config for the workspace and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	workDir, err := workspaceDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if rootContextCompile {
		cfg.Context.Enabled = true
	}
	if rootNoContextCompile {
		cfg.Context.Enabled = false
	}
	if flags.Changed("context-policy") {
		policy, err := contextpack.ParsePolicy(rootContextPolicy)
		if err != nil {
			return nil, err
		}
		cfg.Context.Policy = string(policy)
	}
	if rootLogLevel != "" {
		cfg.Log.Level = rootLogLevel
	}
	if rootLogFormat != "" {
		cfg.Log.Format = rootLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// workspaceDir returns the --workspace flag or the working directory.
func workspaceDir() (string, error) {
	if rootWorkspace != "" {
		return rootWorkspace, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}

// openTasks loads the config and opens the task file the run would use.
func openTasks(cmd *cobra.Command) (*config.Config, *taskstore.FileStore, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	workDir, err := workspaceDir()
	if err != nil {
		return nil, nil, "", err
	}
	path := rootTasks
	if path == "" {
		path = cfg.Tasks.Path
	}
	tasksPath, err := runner.ResolveTasksPath(workDir, path)
	if err != nil {
		return nil, nil, "", err
	}
	store, err := taskstore.NewFileStore(tasksPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to open task file: %w", err)
	}
	return cfg, store, workDir, nil
}

// parseDelay accepts whole seconds ("5") or a duration ("1m30s").
func parseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("--delay must not be negative, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --delay %q: use seconds or a duration like 30s", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("--delay must not be negative, got %s", d)
	}
	return d, nil
}

// ExitCode maps an error returned by the root command to a process exit code.
// Flag and usage errors are configuration errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return run.ExitConfig
}

// Execute runs the root command and exits the process. SIGINT and SIGTERM
// cancel the command context so a run can unwind and restore the workspace.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()

	var exitErr *ExitError
	if err != nil && (!errors.As(err, &exitErr) || exitErr.Err != nil) {
		_, _ = fmt.Fprintf(os.Stderr, "lever: %v\n", err)
	}
	os.Exit(ExitCode(err))
}
