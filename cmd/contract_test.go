package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/lever/internal/run"
)

func writeBuilder(t *testing.T, help string) string {
	t.Helper()
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo 'assembly 1.0.0'; exit 0; fi\n" +
		"echo '" + help + "'\n"
	path := filepath.Join(t.TempDir(), "assembly")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func contractConfig(t *testing.T, builder string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "lever.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context:\n  assembly_path: "+builder+"\n"), 0644))
	return path
}

func TestContractCommand(t *testing.T) {
	t.Run("passes when every flag is documented", func(t *testing.T) {
		builder := writeBuilder(t, "--repo --task --task-id --out --token-budget --exclude --exclude-runtime --summary-json")

		out, _, err := execute(t, "contract", "--config", contractConfig(t, builder))

		require.NoError(t, err)
		assert.Contains(t, out, "satisfies pack builder contract")
	})

	t.Run("missing flags block context", func(t *testing.T) {
		builder := writeBuilder(t, "--repo --task --out")

		_, _, err := execute(t, "contract", "--config", contractConfig(t, builder))

		require.Error(t, err)
		assert.Equal(t, run.ExitContextFailed, ExitCode(err))
		assert.Contains(t, err.Error(), "--task-id")
		assert.Contains(t, err.Error(), "--summary-json")
	})

	t.Run("missing builder is a dependency error", func(t *testing.T) {
		builder := filepath.Join(t.TempDir(), "absent")

		_, _, err := execute(t, "contract", "--config", contractConfig(t, builder))

		require.Error(t, err)
		assert.Equal(t, run.ExitConfig, ExitCode(err))
		assert.Contains(t, err.Error(), "missing dependency")
	})
}
