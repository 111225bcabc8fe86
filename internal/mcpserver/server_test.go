package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/quire/internal/export"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/noteservice"
	"github.com/starford/quire/internal/testutil"
	"github.com/starford/quire/internal/verify"
)

// pngBytes starts with the PNG signature so content sniffing accepts it.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testServer(t *testing.T) (*Server, *testutil.Env) {
	t.Helper()
	env := testutil.TestService(t)
	v, err := verify.New()
	require.NoError(t, err)
	srv := New(env.Service, v, WithFetcher(func(context.Context, string) ([]byte, string, error) {
		return pngBytes, "image/png", nil
	}))
	return srv, env
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" helper, so handlers are called directly.
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_notebooks":     srv.listNotebooks,
		"move_notebook":      srv.moveNotebook,
		"find_or_create_tag": srv.findOrCreateTag,
		"list_notes":         srv.listNotes,
		"search_notes":       srv.searchNotes,
		"read_note":          srv.readNote,
		"verify_export":      srv.verifyExport,
		"upload_asset":       srv.uploadAsset,
		"get_note_contract":  srv.getNoteContract,
	}
	h, ok := handlers[name]
	require.True(t, ok, "unknown tool %s", name)
	result, err := h(context.Background(), req)
	require.NoError(t, err)
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeResult[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, r.IsError, resultText(r))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &v))
	return v
}

func TestToolsAreRegistered(t *testing.T) {
	srv, _ := testServer(t)
	resp := srv.MCPServer().HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"list_notebooks", "move_notebook", "find_or_create_tag", "read_note", "search_notes", "verify_export", "upload_asset"} {
		assert.Contains(t, string(out), `"name":"`+name+`"`)
	}
}

func TestMoveNotebook(t *testing.T) {
	srv, env := testServer(t)
	ctx := context.Background()
	stack, err := env.Service.CreateNotebook(ctx, noteservice.CreateNotebookInput{Name: "Work", Type: models.NotebookTypeStack})
	require.NoError(t, err)
	nb, err := env.Service.CreateNotebook(ctx, noteservice.CreateNotebookInput{Name: "Projects"})
	require.NoError(t, err)

	r := callTool(t, srv, "move_notebook", map[string]any{"id": float64(nb.ID), "target_id": float64(stack.ID)})
	require.False(t, r.IsError, resultText(r))

	tree := decodeResult[[]noteservice.NotebookNode](t, callTool(t, srv, "list_notebooks", nil))
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, nb.ID, tree[0].Children[0].ID)

	r = callTool(t, srv, "move_notebook", map[string]any{"id": float64(stack.ID), "parent_id": float64(nb.ID)})
	assert.True(t, r.IsError, "a stack cannot be nested")

	r = callTool(t, srv, "move_notebook", map[string]any{"id": float64(nb.ID), "target_id": float64(stack.ID), "position": "below"})
	assert.True(t, r.IsError)

	r = callTool(t, srv, "move_notebook", map[string]any{"id": float64(nb.ID)})
	require.False(t, r.IsError, resultText(r))
	tree = decodeResult[[]noteservice.NotebookNode](t, callTool(t, srv, "list_notebooks", nil))
	assert.Len(t, tree, 2, "notebook back at the root")
}

func TestFindOrCreateTag(t *testing.T) {
	srv, _ := testServer(t)
	type out struct {
		Tag     models.Tag `json:"tag"`
		Created bool       `json:"created"`
	}
	first := decodeResult[out](t, callTool(t, srv, "find_or_create_tag", map[string]any{"name": "Ideas"}))
	assert.True(t, first.Created)
	again := decodeResult[out](t, callTool(t, srv, "find_or_create_tag", map[string]any{"name": "ideas"}))
	assert.False(t, again.Created)
	assert.Equal(t, first.Tag.ID, again.Tag.ID)

	child := decodeResult[out](t, callTool(t, srv, "find_or_create_tag", map[string]any{"name": "ideas", "parent_id": float64(first.Tag.ID)}))
	assert.True(t, child.Created, "same name under another parent is a new tag")

	r := callTool(t, srv, "find_or_create_tag", map[string]any{"name": "x", "parent_id": float64(999)})
	assert.True(t, r.IsError)
}

func TestReadNote(t *testing.T) {
	srv, env := testServer(t)
	n, err := env.Service.CreateNote(context.Background(), noteservice.NoteInput{Title: "Hello", Body: "<en-note>hi</en-note>"})
	require.NoError(t, err)

	byID := decodeResult[noteservice.NoteDetail](t, callTool(t, srv, "read_note", map[string]any{"id": float64(n.ID)}))
	assert.Equal(t, "Hello", byID.Title)
	assert.Equal(t, "<en-note>hi</en-note>", byID.Body)

	byExt := decodeResult[noteservice.NoteDetail](t, callTool(t, srv, "read_note", map[string]any{"external_id": n.ExternalID}))
	assert.Equal(t, n.ID, byExt.ID)

	assert.True(t, callTool(t, srv, "read_note", map[string]any{"id": float64(404)}).IsError)
	assert.True(t, callTool(t, srv, "read_note", map[string]any{}).IsError)

	notes := decodeResult[[]models.Note](t, callTool(t, srv, "list_notes", nil))
	assert.Len(t, notes, 1)

	found := decodeResult[[]models.Note](t, callTool(t, srv, "search_notes", map[string]any{"query": "hel"}))
	require.Len(t, found, 1)
	assert.Equal(t, n.ID, found[0].ID)
	assert.True(t, callTool(t, srv, "search_notes", map[string]any{}).IsError)
}

func TestUploadAsset(t *testing.T) {
	srv, env := testServer(t)
	n, err := env.Service.CreateNote(context.Background(), noteservice.NoteInput{Title: "Pic"})
	require.NoError(t, err)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	type out struct {
		noteservice.Upload
		Markup string `json:"markup"`
	}
	up := decodeResult[out](t, callTool(t, srv, "upload_asset", map[string]any{"url": uri, "filename": "shot.png", "note_id": float64(n.ID)}))
	assert.Equal(t, "image/png", up.Mime)
	assert.True(t, strings.HasSuffix(up.Ref, ".png"))
	assert.Equal(t, `<img src="`+up.Ref+`" alt="shot.png"/>`, up.Markup)
	assert.FileExists(t, filepath.Join(env.AssetRoot, filepath.FromSlash(up.Ref)))

	detail, err := env.Service.GetNote(context.Background(), n.ID)
	require.NoError(t, err)
	require.Len(t, detail.Resources, 1)
	assert.Equal(t, up.Hash, detail.Resources[0].Hash)

	fetched := decodeResult[out](t, callTool(t, srv, "upload_asset", map[string]any{"url": "https://example.com/a/diagram.png"}))
	assert.Equal(t, "diagram.png", fetched.Filename)
	assert.Equal(t, up.Hash, fetched.Hash, "same bytes, same hash")
}

func TestUploadAsset_Rejected(t *testing.T) {
	srv, _ := testServer(t)
	cases := map[string]map[string]any{
		"bad extension":    {"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes), "filename": "x.exe"},
		"content mismatch": {"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("plain text")), "filename": "x.png"},
		"not base64":       {"url": "data:image/png,abc"},
		"unknown mime":     {"url": "data:application/x-thing;base64," + base64.StdEncoding.EncodeToString(pngBytes)},
		"unknown note":     {"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes), "note_id": float64(404)},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, callTool(t, srv, "upload_asset", args).IsError)
		})
	}
}

func TestVerifyExport(t *testing.T) {
	srv, _ := testServer(t)
	c, _ := testutil.PlanCorpus(t)
	root := filepath.Join(c.Dir, "export")
	_, err := export.Run(context.Background(), export.Config{
		DBPath:    c.DBPath,
		DocRoot:   c.DocRoot,
		OutPath:   filepath.Join(root, "manifest.json"),
		Resources: c.Resources,
		AssetsDir: filepath.Join(root, "assets"),
	})
	require.NoError(t, err)

	rep := decodeResult[verify.Report](t, callTool(t, srv, "verify_export", map[string]any{"root": root}))
	assert.True(t, rep.OK(), "%v", rep.Violations)

	require.NoError(t, os.Remove(filepath.Join(root, "assets", filepath.FromSlash(testutil.PlanAsset))))
	rep = decodeResult[verify.Report](t, callTool(t, srv, "verify_export", map[string]any{"root": root}))
	assert.Len(t, rep.Violations, 1)

	assert.True(t, callTool(t, srv, "verify_export", map[string]any{"root": t.TempDir()}).IsError)
}

func TestGetNoteContract(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "get_note_contract", nil))
	assert.Contains(t, text, "hh/<sha256>")
}

func TestRefuseLocal(t *testing.T) {
	for addr, blocked := range map[string]bool{
		"127.0.0.1:80":       true,
		"[::1]:443":          true,
		"169.254.169.254:80": true,
		"0.0.0.0:80":         true,
		"93.184.216.34:443":  false,
	} {
		err := refuseLocal("tcp", addr, nil)
		assert.Equal(t, blocked, err != nil, addr)
	}
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "shot.png", cleanFilename("../../shot.png", "png"))
	assert.Equal(t, "my_file.pdf", cleanFilename("my file.pdf", "pdf"))
	assert.True(t, strings.HasPrefix(cleanFilename("", "png"), "asset-"))
	assert.True(t, strings.HasSuffix(cleanFilename("", "png"), ".png"))
}
