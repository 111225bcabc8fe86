package assets

import (
	"encoding/hex"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, p string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
}

func TestSanitizeExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{".PNG", "png"},
		{"jp g", "jpg"},
		{".tar.gz", "tar.gz"},
		{"", ""},
		{".$%^", ""},
		{"..x", ".x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeExt(tt.in))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		name, filename, mime, want string
	}{
		{"filename wins", "diagram.PNG", "image/jpeg", "png"},
		{"mime fallback", "noext", "image/jpeg", "jpg"},
		{"mime with params", "", "text/plain; charset=utf-8", "txt"},
		{"invalid ext falls back", "weird.$$$", "application/pdf", "pdf"},
		{"overlong ext falls back", "x.abcdefghijklmnop", "image/gif", "gif"},
		{"nothing known", "", "application/x-unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtensionFor(tt.filename, tt.mime))
		})
	}
}

func TestRelativePath_Sharding(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		buf := make([]byte, 1+r.IntN(32))
		for j := range buf {
			buf[j] = byte(r.UintN(256))
		}
		hash := hex.EncodeToString(buf)
		rel, err := RelativePath(hash, "png")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(rel, hash[:2]+"/"), "rel %q for hash %q", rel, hash)
		assert.True(t, strings.HasSuffix(rel, hash+".png"))
	}
}

func TestRelativePath_RejectsNonHex(t *testing.T) {
	for _, h := range []string{"", "a", "../etc", "zz99"} {
		_, err := RelativePath(h, "")
		assert.ErrorIs(t, err, ErrInvalidHash, h)
	}
}

func TestResolve_FirstRootWins(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(a, "7", "abc123"), "from a")
	writeFile(t, filepath.Join(b, "7", "abc123"), "from b")

	res := NewResolver(a, b).Resolve(7, "abc123")
	require.True(t, res.Found)
	assert.Equal(t, filepath.Join(a, "7", "abc123"), res.SourcePath)
}

func TestResolve_FallsBackToLaterRoot(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(b, "7", "abc123"), "legacy")

	res := NewResolver(a, "", b).Resolve(7, "abc123")
	require.True(t, res.Found)
	assert.Equal(t, filepath.Join(b, "7", "abc123"), res.SourcePath)
}

func TestResolve_MissReportsFirstCandidate(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	res := NewResolver(a, b).Resolve(3, "ffee")
	assert.False(t, res.Found)
	assert.Equal(t, filepath.Join(a, "3", "ffee"), res.SourcePath)
}

func TestStore_CopyIn(t *testing.T) {
	src := filepath.Join(t.TempDir(), "blob")
	writeFile(t, src, "png bytes")
	s := NewStore(t.TempDir())

	p, err := s.CopyIn(src, "abc123", "diagram.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "ab/abc123.png", p.RelativePath)
	got, err := os.ReadFile(p.AbsolutePath)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(got))

	// Second copy of the same hash is a no-op even if the source vanished.
	require.NoError(t, os.Remove(src))
	p2, err := s.CopyIn(src, "abc123", "diagram.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestStore_CopyInMissingSource(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.CopyIn(filepath.Join(t.TempDir(), "missing"), "abcd", "", "")
	assert.Error(t, err)
}

func TestStore_ImportAndAbs(t *testing.T) {
	s := NewStore(t.TempDir())
	hash, p, err := s.Import([]byte("hello"), "greeting.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
	assert.Equal(t, "2c/"+hash+".txt", p.RelativePath)

	abs, err := s.Abs(p.RelativePath)
	require.NoError(t, err)
	assert.Equal(t, p.AbsolutePath, abs)

	_, err = s.Abs("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidHash)
	_, err = s.Abs("zz/" + hash)
	assert.ErrorIs(t, err, ErrInvalidHash)
}
