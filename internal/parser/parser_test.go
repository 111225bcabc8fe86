package parser

import (
	"testing"
)

func TestMediaElements_SelfClosingAndPaired(t *testing.T) {
	input := `<en-note><div>a<en-media hash="ABC123" type="image/png" width="40"/></div>` +
		`<en-media type="application/pdf" hash="ff00"></en-media></en-note>`
	media := MediaElements(input)
	if len(media) != 2 {
		t.Fatalf("len(media) = %d, want 2", len(media))
	}
	if media[0].Hash != "abc123" || media[0].Mime != "image/png" {
		t.Errorf("media[0] = %+v", media[0])
	}
	if len(media[0].Attrs) != 1 || media[0].Attrs[0].Name != "width" {
		t.Errorf("media[0] attrs = %+v", media[0].Attrs)
	}
	if got := input[media[1].Start:media[1].End]; got != `<en-media type="application/pdf" hash="ff00"></en-media>` {
		t.Errorf("media[1] span = %q", got)
	}
}

func TestMediaElements_NoHashSkipped(t *testing.T) {
	if media := MediaElements(`<en-media type="image/png"/>`); len(media) != 0 {
		t.Errorf("expected no media, got %+v", media)
	}
}

func TestReplaceMedia_Declined(t *testing.T) {
	input := `x<en-media hash="aa"/>y<en-media hash="bb"/>z`
	got := ReplaceMedia(input, func(m Media) (string, bool) {
		if m.Hash == "aa" {
			return "[A]", true
		}
		return "", false
	})
	if got != `x[A]y<en-media hash="bb"/>z` {
		t.Errorf("got %q", got)
	}
}

func TestRewriteRefs_PreservesOtherBytes(t *testing.T) {
	input := `<img SRC="ab/abc.png" alt="x"><a href='single'>t</a><a href="keep">k</a>`
	got := RewriteRefs(input, func(attr, value string) (string, bool) {
		if attr == "src" {
			return "new/" + value, true
		}
		return "", false
	})
	want := `<img SRC="new/ab/abc.png" alt="x"><a href='single'>t</a><a href="keep">k</a>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewriteRefs_NoMatchReturnsInput(t *testing.T) {
	input := "<p>plain</p>"
	if got := RewriteRefs(input, func(string, string) (string, bool) { return "x", true }); got != input {
		t.Errorf("got %q", got)
	}
}

func TestNoteLinks_Dedup(t *testing.T) {
	input := `<a href="note://abc-1">one</a><a href="note://abc-1/">again</a><a href="note:// ">empty</a><img src="note://img">`
	links := NoteLinks(input)
	if len(links) != 1 || links[0] != "abc-1" {
		t.Errorf("links = %v", links)
	}
}

func TestRefs_SkipsPrefixedAttributes(t *testing.T) {
	input := `<img data-src="ab/lazy.png" src="ab/abc.png"><a data-href="x" href="note://n1">n</a>`
	refs := Refs(input)
	if len(refs) != 2 || refs[0].Value != "ab/abc.png" || refs[1].Value != "note://n1" {
		t.Errorf("refs = %v", refs)
	}
}

func TestNoteLinkTarget(t *testing.T) {
	for in, want := range map[string]string{"note://abc-1/": "abc-1", "note:// abc-1": "abc-1", "note://": ""} {
		got, ok := NoteLinkTarget(in)
		if !ok || got != want {
			t.Errorf("NoteLinkTarget(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := NoteLinkTarget("https://x.org"); ok {
		t.Error("non-note link accepted")
	}
}

func TestEscape(t *testing.T) {
	if got := EscapeAttr(`a"b<c>&`); got != `a&quot;b&lt;c&gt;&amp;` {
		t.Errorf("EscapeAttr = %q", got)
	}
	if got := EscapeText(`<b>&`); got != `&lt;b&gt;&amp;` {
		t.Errorf("EscapeText = %q", got)
	}
}
