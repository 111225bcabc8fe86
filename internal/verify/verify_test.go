package verify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/quire/internal/export"
	"github.com/starford/quire/internal/testutil"
	"github.com/starford/quire/internal/verify"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// exportPlan exports the Plan corpus and returns the export root and the
// id of the Plan note.
func exportPlan(t *testing.T, withAssets bool) (string, int64) {
	t.Helper()
	c, plan := testutil.PlanCorpus(t)
	root := filepath.Join(c.Dir, "export")
	cfg := export.Config{
		DBPath:  c.DBPath,
		DocRoot: c.DocRoot,
		OutPath: filepath.Join(root, verify.DefaultManifest),
		Logger:  quiet,
	}
	if withAssets {
		cfg.Resources = c.Resources
		cfg.AssetsDir = filepath.Join(root, "assets")
	}
	_, err := export.Run(context.Background(), cfg)
	require.NoError(t, err)
	return root, plan.ID
}

func run(t *testing.T, root string) *verify.Report {
	t.Helper()
	v, err := verify.New(verify.WithLogger(quiet))
	require.NoError(t, err)
	rep, err := v.Verify(context.Background(), root)
	require.NoError(t, err)
	return rep
}

func rewriteManifest(t *testing.T, root string, fn func(m *export.Manifest)) {
	t.Helper()
	p := filepath.Join(root, verify.DefaultManifest)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	m, err := export.Decode(data)
	require.NoError(t, err)
	fn(m)
	data, err = json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func TestVerify_CleanExport(t *testing.T) {
	root, _ := exportPlan(t, true)
	rep := run(t, root)
	assert.True(t, rep.OK(), "%v", rep.Violations)
	assert.Equal(t, 2, rep.Notes)
	assert.Equal(t, 2, rep.References, "one image src and one note link")
}

func TestVerify_DeletedAssetIsOneViolation(t *testing.T) {
	root, planID := exportPlan(t, true)
	require.NoError(t, os.Remove(filepath.Join(root, "assets", filepath.FromSlash(testutil.PlanAsset))))

	rep := run(t, root)
	require.Len(t, rep.Violations, 1, "%v", rep.Violations)
	v := rep.Violations[0]
	assert.Equal(t, verify.KindMissingFile, v.Kind)
	assert.Equal(t, "assets/"+testutil.PlanAsset, v.Path)
	assert.Equal(t, []int64{planID}, v.NoteIDs)
	assert.Contains(t, v.String(), testutil.PlanAsset)
}

func TestVerify_ManifestMissing(t *testing.T) {
	_, err := verify.Verify(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, verify.ErrManifestMissing)

	_, err = verify.Verify(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, verify.ErrManifestMissing)

	root := t.TempDir()
	testutil.WriteFile(t, root, verify.DefaultManifest, []byte("{not json"))
	_, err = verify.Verify(context.Background(), root)
	assert.ErrorIs(t, err, verify.ErrManifestMissing)
}

func TestVerify_SkippedRewriteLeaksMediaMarker(t *testing.T) {
	root, planID := exportPlan(t, false)
	rep := run(t, root)
	require.Len(t, rep.Violations, 1, "%v", rep.Violations)
	assert.Equal(t, verify.KindNonPortable, rep.Violations[0].Kind)
	assert.Equal(t, []int64{planID}, rep.Violations[0].NoteIDs)
	assert.Contains(t, rep.Violations[0].Detail, "<en-media")
}

func TestVerify_ContentChecks(t *testing.T) {
	root, planID := exportPlan(t, true)
	content := `<en-note>
<img src="FILE:///home/me/a.png"/>
<img src="blob:abc"/><img src="blob:def"/>
<a href="http://127.0.0.1:7777/assets/x">x</a>
<a href="note://no-such-note">gone</a>
<a href="https://example.com/page">ok</a>
<a href="#top">ok</a>
<img src="/abs/path.png"/>
<img src="assets/zz/missing.png"/>
</en-note>`
	testutil.WriteFile(t, root, export.NoteContentPath(planID), []byte(content))

	rep := run(t, root)
	kinds := map[string]int{}
	for _, v := range rep.Violations {
		kinds[v.Kind]++
	}
	// file://, blob: (once), 127.0.0.1, and the absolute path.
	assert.Equal(t, 4, kinds[verify.KindNonPortable], "%v", rep.Violations)
	assert.Equal(t, 1, kinds[verify.KindDanglingLink])
	assert.Equal(t, 1, kinds[verify.KindMissingFile])
}

func TestVerify_NoteLinkTrailingSlash(t *testing.T) {
	root, planID := exportPlan(t, true)
	content := `<en-note><a href="note://plan-0001/">self</a><img data-src="/abs/lazy.png" src="assets/` + testutil.PlanAsset + `"/></en-note>`
	testutil.WriteFile(t, root, export.NoteContentPath(planID), []byte(content))

	rep := run(t, root)
	assert.True(t, rep.OK(), "%v", rep.Violations)
	assert.Equal(t, 3, rep.References)
}

func TestVerify_DanglingJoinsAndMissingFiles(t *testing.T) {
	root, planID := exportPlan(t, true)
	rewriteManifest(t, root, func(m *export.Manifest) {
		m.NoteTags = append(m.NoteTags, export.NoteTagLink{NoteID: 999, TagID: 998})
		m.Attachments = append(m.Attachments, export.AttachmentLink{NoteID: 777, Hash: "dead"})
		missingNB := int64(555)
		m.Notes[1].NotebookID = &missingNB
		m.Notes[1].TagIDs = append(m.Notes[1].TagIDs, 444)
	})
	require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(export.NoteMetaPath(planID)))))

	rep := run(t, root)
	kinds := map[string]int{}
	for _, v := range rep.Violations {
		kinds[v.Kind]++
	}
	assert.Equal(t, 5, kinds[verify.KindDanglingJoin], "%v", rep.Violations)
	assert.Equal(t, 1, kinds[verify.KindMissingFile])
}

func TestVerify_AssetsOutsideRoot(t *testing.T) {
	c, _ := testutil.PlanCorpus(t)
	root := filepath.Join(c.Dir, "out")
	_, err := export.Run(context.Background(), export.Config{
		DBPath:    c.DBPath,
		DocRoot:   c.DocRoot,
		OutPath:   filepath.Join(root, verify.DefaultManifest),
		Resources: c.Resources,
		AssetsDir: filepath.Join(c.Dir, "A"),
		Logger:    quiet,
	})
	require.NoError(t, err)
	assert.True(t, run(t, root).OK())

	require.NoError(t, os.Remove(filepath.Join(c.Dir, "A", filepath.FromSlash(testutil.PlanAsset))))
	rep := run(t, root)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "../A/"+testutil.PlanAsset, rep.Violations[0].Path)
}

func TestVerify_OrphanContentIsReportedNotFailed(t *testing.T) {
	root, _ := exportPlan(t, true)
	testutil.WriteFile(t, root, "notes/9999.enml", []byte("<en-note/>"))

	rep := run(t, root)
	assert.True(t, rep.OK(), "%v", rep.Violations)
	assert.Equal(t, []string{"notes/9999.enml"}, rep.Orphans)
}
