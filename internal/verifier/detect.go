package verifier

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// pythonMarkers are files whose presence means the project has Python tests.
var pythonMarkers = []string{"pytest.ini", "pyproject.toml", "setup.cfg", "tox.ini"}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Detect picks the project's verification entry point, in priority order:
// an executable scripts/ci.sh, a Makefile ci target, an executable
// tests/run.sh, then pytest when it is installed and Python tests exist.
func Detect(dir string) (string, bool) {
	switch {
	case isExecutable(filepath.Join(dir, "scripts", "ci.sh")):
		return "./scripts/ci.sh", true
	case makefileHasCI(filepath.Join(dir, "Makefile")):
		return "make ci", true
	case isExecutable(filepath.Join(dir, "tests", "run.sh")):
		return "./tests/run.sh", true
	}

	if _, err := lookPath("pytest"); err == nil && hasPythonTests(dir) {
		return "pytest -q", true
	}
	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}

func makefileHasCI(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "ci:") {
			return true
		}
	}
	return false
}

func hasPythonTests(dir string) bool {
	for _, name := range pythonMarkers {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	// Uses doublestar for recursive ** glob support.
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "tests", "**", "*.py"))
	return err == nil && len(matches) > 0
}
