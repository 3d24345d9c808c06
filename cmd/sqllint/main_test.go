package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLintSourceAcceptsMarkedQueries(t *testing.T) {
	src := "package q\n\nconst QGet = `--sql 0b1f3c9e-6a55-4c1e-9d0e-2f5d8a7b9c10\nselect value from kv_entries where key = $1;\n`\n\nconst Label = \"not a query\"\n"
	findings, err := newLinter().lintSource("q.go", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestLintSourceFlagsMissingAndMalformedMarkers(t *testing.T) {
	src := "package q\n\nconst QNone = `select 1`\n\nconst QBad = `--sql not-a-uuid\ndelete from kv_entries;`\n\nvar QBraced = `--sql {0b1f3c9e-6a55-4c1e-9d0e-2f5d8a7b9c10}\nselect 1`\n"
	findings, err := newLinter().lintSource("q.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, "QNone", findings[0].name)
	assert.Equal(t, 3, findings[0].pos.Line)
	assert.Equal(t, "QBad", findings[1].name)
	assert.Equal(t, "QBraced", findings[2].name)
}

func TestLintSourceFlagsReusedMarkersAcrossFiles(t *testing.T) {
	l := newLinter()
	a := "package q\n\nconst QA = `--sql 0b1f3c9e-6a55-4c1e-9d0e-2f5d8a7b9c10\nselect 1`\n"
	b := "package q\n\nconst QB = `--sql 0B1F3C9E-6A55-4C1E-9D0E-2F5D8A7B9C10\nselect 2`\n"

	findings, err := l.lintSource("a.go", []byte(a))
	require.NoError(t, err)
	assert.Empty(t, findings)

	findings, err = l.lintSource("b.go", []byte(b))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].message, "a.go:3")
}

func TestLintPathWalksDirectoriesAndSkipsTests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q.go"), []byte("package q\n\nconst QX = `update t set a = 1`\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q_test.go"), []byte("package q\n\nconst QY = `update t set a = 2`\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "_fixtures"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_fixtures", "f.go"), []byte("package f\n\nconst QZ = `select 3`\n"), 0o644))

	findings, err := newLinter().lintPath(dir)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "QX", findings[0].name)
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	findings, err := newLinter().lintPath(filepath.Join("..", "..", "internal", "sqlinline"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}
