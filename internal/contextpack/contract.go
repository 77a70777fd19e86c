package contextpack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// ContractVersion identifies the pack builder command line this package speaks.
const ContractVersion = "2026-02-16"

// RequiredBuildFlags must all appear in `build --help`.
var RequiredBuildFlags = []string{
	"--repo",
	"--task",
	"--task-id",
	"--out",
	"--token-budget",
	"--exclude",
	"--exclude-runtime",
	"--summary-json",
}

// ErrContract is wrapped by every ContractError.
var ErrContract = errors.New("pack builder contract violation")

// ContractError describes why the pack builder does not satisfy the contract.
type ContractError struct {
	// Command is the invocation that failed, or the binary when it is missing.
	Command string
	// ExitCode is the failing command's status, -1 when it never ran.
	ExitCode int
	// Output is the command's combined output, trimmed.
	Output string
	// MissingFlags lists required build flags absent from the help text.
	MissingFlags []string
	// NotFound is set when the binary does not exist.
	NotFound bool
}

func (e *ContractError) Error() string {
	switch {
	case e.NotFound:
		return fmt.Sprintf("missing dependency: %s", e.Command)
	case len(e.MissingFlags) > 0:
		return fmt.Sprintf("pack builder CLI contract mismatch (version %s): missing required build flags: %s",
			ContractVersion, strings.Join(e.MissingFlags, ", "))
	default:
		return fmt.Sprintf("pack builder contract validation failed (version %s): command '%s' exited %d: %s",
			ContractVersion, e.Command, e.ExitCode, e.Output)
	}
}

func (e *ContractError) Unwrap() error {
	return ErrContract
}

// CheckContract runs `<path> --version` and `<path> build --help` and checks
// that every required build flag is documented.
func CheckContract(ctx context.Context, path string) error {
	if path == "" {
		path = DefaultAssemblyPath
	}
	if _, err := runContractCommand(ctx, path, "--version"); err != nil {
		return err
	}
	help, err := runContractCommand(ctx, path, "build", "--help")
	if err != nil {
		return err
	}
	return ValidateBuildHelp(help)
}

// ValidateBuildHelp checks help text for every required build flag.
func ValidateBuildHelp(help string) error {
	var missing []string
	for _, flag := range RequiredBuildFlags {
		if !strings.Contains(help, flag) {
			missing = append(missing, flag)
		}
	}
	if len(missing) > 0 {
		return &ContractError{ExitCode: -1, MissingFlags: missing}
	}
	return nil
}

func runContractCommand(ctx context.Context, path string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	command := strings.Join(append([]string{path}, args...), " ")
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return "", &ContractError{Command: path, ExitCode: -1, NotFound: true}
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &ContractError{Command: command, ExitCode: code, Output: strings.TrimSpace(out.String())}
	}
	return out.String(), nil
}
