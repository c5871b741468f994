package compiler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templater/internal/pkg/errors"
)

// writeScript installs an executable shell script standing in for ConTeXt.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-context")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

const okScript = `[ "$1" = "--batchmode" ] || { echo "missing --batchmode" >&2; exit 3; }
src="$2"
printf 'PDF:' > "${src%.*}.pdf"
cat "$src" >> "${src%.*}.pdf"
echo "pages: 1"
`

func TestCompile(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(work, "invoice.tex")
	require.NoError(t, os.WriteFile(src, []byte(`\starttext hi \stoptext`), 0o644))

	c := &ConTeXt{Command: writeScript(t, okScript)}
	out, err := c.Compile(context.Background(), src, work)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(work, "invoice.pdf"), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `PDF:\starttext hi \stoptext`, string(data))
}

func TestCompileRunsInWorkDir(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(work, "doc.mkiv")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	script := `pwd > "$(dirname "$2")/cwd.txt"
` + okScript
	c := &ConTeXt{Command: writeScript(t, script)}
	_, err := c.Compile(context.Background(), src, work)
	require.NoError(t, err)

	cwd, err := os.ReadFile(filepath.Join(work, "cwd.txt"))
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(work)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(strings.TrimSpace(string(cwd)))
	require.NoError(t, err)
	assert.Equal(t, resolved, gotResolved)
}

func TestCompileFailure(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(work, "broken.tex")
	require.NoError(t, os.WriteFile(src, []byte(`\undefined`), 0o644))

	script := `echo "partial output"
echo "! Undefined control sequence" >&2
printf 'partial' > "${2%.*}.pdf"
exit 1
`
	c := &ConTeXt{Command: writeScript(t, script)}
	_, err := c.Compile(context.Background(), src, work)
	require.Error(t, err)

	assert.True(t, errors.IsCode(err, errors.CodeCompilationFailed))
	fields := errors.GetFields(err)
	assert.Equal(t, 1, fields["exit_code"])
	assert.Contains(t, fields["stderr"], "Undefined control sequence")
	assert.Contains(t, fields["stdout"], "partial output")
}

func TestCompileMissingOutput(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(work, "empty.tex")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	c := &ConTeXt{Command: writeScript(t, "exit 0\n")}
	_, err := c.Compile(context.Background(), src, work)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCompilationFailed))
}

func TestCompileMissingCommand(t *testing.T) {
	work := t.TempDir()
	c := &ConTeXt{Command: filepath.Join(work, "does-not-exist")}

	_, err := c.Compile(context.Background(), filepath.Join(work, "a.tex"), work)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCompilationFailed))
	assert.Error(t, c.Available())
}

func TestCompileTimeout(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(work, "slow.tex")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	c := &ConTeXt{Command: writeScript(t, "exec sleep 10\n"), Timeout: 200 * time.Millisecond}

	start := time.Now()
	_, err := c.Compile(context.Background(), src, work)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 8*time.Second)
	assert.True(t, errors.IsCode(err, errors.CodeCompilationFailed))
	assert.Contains(t, err.Error(), "timed out")
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/w/invoice.pdf", OutputPath("/w/invoice.tex"))
	assert.Equal(t, "/w/letter.pdf", OutputPath("/w/letter.mkiv"))
	assert.Equal(t, "/w/a.b.pdf", OutputPath("/w/a.b.tex"))
}
