package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadFilesUnifies(t *testing.T) {
	dir := t.TempDir()
	a := writeCUE(t, dir, "a.cue", `workflow: A: {version: "1", items: [{activity: "X", version: "1"}]}`)
	b := writeCUE(t, dir, "b.cue", `workflow: B: version: "2"`)

	v, err := LoadFiles(a, b)
	require.NoError(t, err)

	ws, errs := Workflows(v)
	require.Empty(t, errs)
	require.Len(t, ws, 2)
	assert.Equal(t, "A", ws[0].Name())
	assert.Equal(t, "B", ws[1].Name())
}

func TestLoadFilesErrors(t *testing.T) {
	_, err := LoadFiles()
	assert.Error(t, err)

	_, err = LoadFiles(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	bad := writeCUE(t, t.TempDir(), "bad.cue", `workflow: A: {`)
	_, err = LoadFiles(bad)
	assert.Error(t, err)
}

func TestWorkflowsReportsValidationErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeCUE(t, dir, "dup.cue", `workflow: Dup: {
	version: "1"
	items: [{activity: "X", version: "1"}, {activity: "X", version: "1"}]
}`)
	v, err := LoadFiles(path)
	require.NoError(t, err)

	ws, errs := Workflows(v)
	assert.Nil(t, ws)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), ErrDuplicateItem)
}

func TestWorkflowsRequiresDeclarations(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "none.cue", `other: 1`)
	v, err := LoadFiles(path)
	require.NoError(t, err)
	_, errs := Workflows(v)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no workflows declared")
}
