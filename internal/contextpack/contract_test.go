package contextpack

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullHelp = `Usage: assembly build [OPTIONS]
  --repo <DIR>
  --task <TEXT|@FILE>
  --task-id <ID>
  --out <DIR>
  --token-budget <N>
  --exclude <GLOB>
  --exclude-runtime <GLOB>
  --summary-json <PATH>
`

func TestValidateBuildHelp(t *testing.T) {
	assert.NoError(t, ValidateBuildHelp(fullHelp))

	help := strings.ReplaceAll(fullHelp, "--summary-json", "--summary")
	err := ValidateBuildHelp(help)
	require.Error(t, err)

	var cerr *ContractError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"--summary-json"}, cerr.MissingFlags)
	assert.True(t, errors.Is(err, ErrContract))
	assert.Contains(t, err.Error(), ContractVersion)
}

func TestCheckContract(t *testing.T) {
	t.Run("satisfied", func(t *testing.T) {
		script := writeScript(t, `if [ "$1" = "--version" ]; then echo "assembly 1.0"; exit 0; fi
cat <<'HELP'
`+fullHelp+`HELP`)
		assert.NoError(t, CheckContract(context.Background(), script))
	})

	t.Run("version fails", func(t *testing.T) {
		script := writeScript(t, `echo "boom" >&2; exit 4`)
		err := CheckContract(context.Background(), script)

		var cerr *ContractError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, 4, cerr.ExitCode)
		assert.Equal(t, "boom", cerr.Output)
		assert.Contains(t, cerr.Command, "--version")
	})

	t.Run("missing flags", func(t *testing.T) {
		script := writeScript(t, `echo "--repo --task"`)
		err := CheckContract(context.Background(), script)

		var cerr *ContractError
		require.True(t, errors.As(err, &cerr))
		assert.Contains(t, cerr.MissingFlags, "--out")
	})

	t.Run("missing binary", func(t *testing.T) {
		err := CheckContract(context.Background(), filepath.Join(t.TempDir(), "assembly"))

		var cerr *ContractError
		require.True(t, errors.As(err, &cerr))
		assert.True(t, cerr.NotFound)
		assert.Contains(t, err.Error(), "missing dependency")
	})
}
