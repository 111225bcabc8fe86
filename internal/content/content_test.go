package content

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://127.0.0.1:8080"

func TestIsDurable(t *testing.T) {
	assert.True(t, IsDurable("ab/abc123.png"))
	assert.True(t, IsDurable("ab/abc123"))
	assert.False(t, IsDurable("ac/abc123.png"), "shard must match hash prefix")
	assert.False(t, IsDurable("assets/ab/abc123.png"))
	assert.False(t, IsDurable("https://example.com/ab/abc.png"))
}

func TestToExportForm_Image(t *testing.T) {
	markup := `<en-note><div>Plan</div><en-media hash="abc123" type="image/png" width="120"/></en-note>`
	refs := map[string]AssetRef{"abc123": {RelPath: "ab/abc123.png", Filename: "diagram.png", Mime: "image/png"}}

	got := ToExportForm(markup, refs, "assets")
	assert.Equal(t, `<en-note><div>Plan</div><img src="assets/ab/abc123.png" alt="diagram.png" width="120"/></en-note>`, got)
	assert.NotContains(t, got, "hash=")
}

func TestToExportForm_NonImageAndUnresolved(t *testing.T) {
	markup := `<en-media hash="ff01" type="application/pdf"></en-media> <en-media hash="dead" type="image/png"/>`
	refs := map[string]AssetRef{"ff01": {RelPath: "ff/ff01.pdf", Filename: "a&b.pdf"}}

	got := ToExportForm(markup, refs, "")
	assert.Equal(t, `<a href="ff/ff01.pdf">a&amp;b.pdf</a> <en-media hash="dead" type="image/png"/>`, got)
}

func TestToExportForm_NoRefsIsIdentity(t *testing.T) {
	markup := `<en-media hash="ff01"/>`
	assert.Equal(t, markup, ToExportForm(markup, nil, "assets"))
}

func TestFromExportForm(t *testing.T) {
	markup := `<img src="../A/ab/abc123.png"/><a href="../A/readme.txt">x</a><a href="https://x.org">y</a>`
	got := FromExportForm(markup, "../A")
	assert.Equal(t, `<img src="ab/abc123.png"/><a href="../A/readme.txt">x</a><a href="https://x.org">y</a>`, got)
}

func TestSession_RoundTrip(t *testing.T) {
	s := NewSession(baseURL)
	stored := `<p><img src="ab/abc123.png"/><a href="cd/cdef.pdf">doc</a><a href="https://x.org">ext</a></p>`

	display := s.ToDisplayForm(stored, nil)
	assert.NotContains(t, display, `"ab/abc123.png"`)
	assert.Contains(t, display, baseURL+"/assets/")
	assert.Contains(t, display, `href="https://x.org"`)

	back, err := s.ToStorageForm(display)
	require.NoError(t, err)
	assert.Equal(t, stored, back)
}

func TestSession_LocatorsAreRandomPerSession(t *testing.T) {
	a, b := NewSession(baseURL), NewSession(baseURL)
	assert.NotEqual(t, a.Locator("ab/abc1"), b.Locator("ab/abc1"))
	assert.Equal(t, a.Locator("ab/abc1"), a.Locator("ab/abc1"))

	// A locator from another session cannot be reversed here.
	foreign := `<img src="` + b.Locator("ab/abc1") + `"/>`
	out, err := a.ToStorageForm(foreign)
	require.NoError(t, err)
	assert.Equal(t, foreign, out)
}

func TestSession_StrictRejectsUnmapped(t *testing.T) {
	s := NewSession(baseURL, WithStrict(true))
	pasted := `<img src="` + baseURL + `/assets/not-a-token"/>`
	out, err := s.ToStorageForm(pasted)
	require.ErrorIs(t, err, ErrUnmappedLocator)
	assert.Equal(t, pasted, out)
}

func TestSession_Resolve(t *testing.T) {
	s := NewSession(baseURL + "/")
	loc := s.Locator("ab/abc123.png")
	token := strings.TrimPrefix(loc, s.LocatorPrefix())
	durable, ok := s.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, "ab/abc123.png", durable)
	_, ok = s.Resolve("missing")
	assert.False(t, ok)
}

func pngMedia(hash, _ string) (string, bool) {
	return hash[:2] + "/" + hash + ".png", true
}

func TestSession_MediaLocator(t *testing.T) {
	s := NewSession(baseURL)
	stored := `<en-note><en-media hash="abc123" type="image/png"/><en-media hash="zz" type="image/png"/></en-note>`

	assert.Equal(t, stored, s.ToDisplayForm(stored, nil), "no lookup leaves media alone")

	display := s.ToDisplayForm(stored, pngMedia)
	loc := s.Locator("ab/abc123.png")
	assert.Equal(t, `<en-note><en-media src="`+loc+`" hash="abc123" type="image/png"/><en-media hash="zz" type="image/png"/></en-note>`, display)

	back, err := s.ToStorageForm(display)
	require.NoError(t, err)
	assert.Equal(t, stored, back)

	// A foreign locator on a media element is kept, and strict mode reports it.
	foreign := `<en-media src="` + NewSession(baseURL).Locator("ab/abc123.png") + `" hash="abc123"/>`
	out, err := s.ToStorageForm(foreign)
	require.NoError(t, err)
	assert.Equal(t, foreign, out)
	_, err = NewSession(baseURL, WithStrict(true)).ToStorageForm(foreign)
	assert.ErrorIs(t, err, ErrUnmappedLocator)
}

// randomBody mixes durable refs, foreign locators, external links and noise.
func randomBody(r *rand.Rand, s *Session, foreign *Session) string {
	var b strings.Builder
	for i := 0; i < 1+r.IntN(8); i++ {
		hash := fmt.Sprintf("%02x%06x", r.IntN(256), r.IntN(1<<24))
		switch r.IntN(6) {
		case 0:
			fmt.Fprintf(&b, `<img src="%s/%s.png"/>`, hash[:2], hash)
		case 1:
			fmt.Fprintf(&b, `<a href="%s/%s">f</a>`, hash[:2], hash)
		case 2:
			fmt.Fprintf(&b, `<img src="%s"/>`, foreign.Locator(hash[:2]+"/"+hash))
		case 3:
			fmt.Fprintf(&b, `<a href="https://example.com/%s">x</a>`, hash)
		case 4:
			fmt.Fprintf(&b, `<en-media hash="%s" type="image/png"/>`, hash)
		default:
			fmt.Fprintf(&b, `<p>text %d &amp; more</p>`, r.IntN(100))
		}
	}
	return b.String()
}

func TestSession_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	s := NewSession(baseURL)
	foreign := NewSession("http://localhost:9999")
	for i := 0; i < 200; i++ {
		x := randomBody(r, s, foreign)

		d := s.ToDisplayForm(x, pngMedia)
		assert.Equal(t, d, s.ToDisplayForm(d, pngMedia), "display form must be idempotent")
		assert.NotRegexp(t, `<en-media hash=`, d, "every placeable media element gets a locator")

		st, err := s.ToStorageForm(d)
		require.NoError(t, err)
		st2, err := s.ToStorageForm(st)
		require.NoError(t, err)
		assert.Equal(t, st, st2, "storage form must be idempotent")

		// Every durable ref was minted by s, so the round trip is exact.
		assert.Equal(t, x, st)
	}
}

func TestSession_ConcurrentLocators(t *testing.T) {
	s := NewSession(baseURL)
	done := make(chan string, 16)
	for i := 0; i < 16; i++ {
		go func() { done <- s.Locator("ab/abc123") }()
	}
	first := <-done
	for i := 1; i < 16; i++ {
		assert.Equal(t, first, <-done)
	}
}
