package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/quire/internal/export"
	"github.com/starford/quire/internal/store"
	"github.com/starford/quire/internal/testutil"
)

func TestFromAppConfig_FillsUnsetPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /srv/quire.db
documents:
  root: /srv/rte
assets:
  resource_roots: [/srv/res]
  legacy_resource_roots: [/srv/old]
`), 0o644))

	cfg := export.Config{DocRoot: "/flag/rte", AssetsDir: "/out/assets"}
	require.NoError(t, fromAppConfig(path, &cfg))
	assert.Equal(t, "/srv/quire.db", cfg.DBPath)
	assert.Equal(t, "/flag/rte", cfg.DocRoot, "flags win over config")
	assert.Equal(t, "/srv/res", cfg.Resources)
	assert.Equal(t, []string{"/srv/old"}, cfg.LegacyResources)
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(&bytes.Buffer{}, "loud")
	assert.Error(t, err)
	_, err = newLogger(&bytes.Buffer{}, "debug")
	assert.NoError(t, err)
}

func TestPrintSummary(t *testing.T) {
	res := &export.Result{ManifestPath: "/out/manifest.json", Manifest: &export.Manifest{}}
	res.Manifest.Meta.Counts.Notes = 3
	res.Manifest.Meta.Counts.DocumentsMissing = 1
	res.Manifest.Meta.Counts.DecodeErrors = 2

	var buf bytes.Buffer
	printSummary(&buf, res)
	assert.Contains(t, buf.String(), "manifest: /out/manifest.json")
	assert.Contains(t, buf.String(), "notes=3")
	assert.Contains(t, buf.String(), "missing=1 decode_errors=2")
}

func TestFromAppConfig_ResourceRootsNeedAssets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /srv/quire.db
assets:
  resource_roots: [/srv/res]
  legacy_resource_roots: [/srv/old]
`), 0o644))

	cfg := export.Config{OutPath: "/out/manifest.json"}
	require.NoError(t, fromAppConfig(path, &cfg))
	assert.Empty(t, cfg.Resources)
	assert.Empty(t, cfg.LegacyResources)
	assert.NoError(t, cfg.Validate())
}

func runExport(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	cmd.ErrWriter = io.Discard
	err := cmd.Run(context.Background(), append([]string{"quire-export"}, args...))
	return out.String(), err
}

func TestRun_ConfigWithoutAssetsExportsBodies(t *testing.T) {
	c, _ := testutil.PlanCorpus(t)
	path := filepath.Join(c.Dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: `+c.DBPath+`
documents:
  root: `+c.DocRoot+`
assets:
  resource_roots: [`+c.Resources+`]
`), 0o644))

	out := filepath.Join(c.Dir, "export", "manifest.json")
	summary, err := runExport(t, "-c", path, "--out", out, "--log-level", "error")
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.Contains(t, summary, "notes=2")
	assert.Contains(t, summary, "attachments: total=1 copied=0 missing=0 copy_failed=0 invalid=0\n")
}

func TestRun_FailuresAreFatal(t *testing.T) {
	dir := t.TempDir()

	_, err := runExport(t, "--db", filepath.Join(dir, "x.db"), "--rte", dir, "--log-level", "error")
	require.Error(t, err)
	var fe *export.FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, export.PhaseInit, fe.Phase)
	assert.Contains(t, err.Error(), "--out is required")

	dbPath := filepath.Join(dir, "empty.db")
	conn, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE unrelated (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	out := filepath.Join(dir, "export", "manifest.json")
	_, err = runExport(t, "--db", dbPath, "--rte", dir, "--out", out, "--log-level", "error")
	require.Error(t, err)
	assert.True(t, export.IsFatal(err))
	assert.ErrorIs(t, err, store.ErrMissingTables)
	assert.NoFileExists(t, out)

	_, err = runExport(t, "--db", dbPath, "--rte", dir, "--out", out, "--log-level", "loud")
	assert.Error(t, err)
}
