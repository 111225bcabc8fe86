// Package parser scans ENML-style note markup for embedded media, resource
// references, and note links.
package parser

import (
	"regexp"
	"strings"
)

// NoteLinkScheme prefixes href targets that point at another note by external id.
const NoteLinkScheme = "note://"

var (
	mediaRe    = regexp.MustCompile(`(?is)<en-media\b[^>]*?/?>(?:\s*</en-media>)?`)
	attrRe     = regexp.MustCompile(`([A-Za-z_:][-A-Za-z0-9_:.]*)\s*=\s*"([^"]*)"`)
	refAttrRe  = regexp.MustCompile(`(?i)(?:^|\s)(src|href)\s*=\s*"([^"]*)"`)
	mediaTagRe = regexp.MustCompile(`(?i)^<en-media\b`)
)

// Attr is a single name="value" pair in document order.
type Attr struct {
	Name  string
	Value string
}

// Media is one <en-media> element found in markup.
type Media struct {
	Start, End int // byte offsets of the whole element, closing tag included
	Hash       string
	Mime       string
	Attrs      []Attr // every attribute except hash and type
}

// Ref is a src/href attribute value.
type Ref struct {
	Attr  string
	Value string
}

// ParseAttrs extracts attributes from a single start tag.
func ParseAttrs(tag string) []Attr {
	matches := attrRe.FindAllStringSubmatch(tag, -1)
	out := make([]Attr, 0, len(matches))
	for _, m := range matches {
		out = append(out, Attr{Name: m[1], Value: m[2]})
	}
	return out
}

// MediaElements returns every <en-media> element with a non-empty hash.
func MediaElements(markup string) []Media {
	locs := mediaRe.FindAllStringIndex(markup, -1)
	out := make([]Media, 0, len(locs))
	for _, loc := range locs {
		el := markup[loc[0]:loc[1]]
		if !mediaTagRe.MatchString(el) {
			continue
		}
		startTag := el
		if i := strings.Index(el, ">"); i >= 0 {
			startTag = el[:i+1]
		}
		m := Media{Start: loc[0], End: loc[1]}
		for _, a := range ParseAttrs(startTag) {
			switch strings.ToLower(a.Name) {
			case "hash":
				m.Hash = strings.ToLower(strings.TrimSpace(a.Value))
			case "type":
				m.Mime = a.Value
			default:
				m.Attrs = append(m.Attrs, a)
			}
		}
		if m.Hash == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ReplaceMedia replaces each media element with fn's output. When fn reports
// false the element is left untouched.
func ReplaceMedia(markup string, fn func(Media) (string, bool)) string {
	media := MediaElements(markup)
	if len(media) == 0 {
		return markup
	}
	var b strings.Builder
	b.Grow(len(markup))
	last := 0
	for _, m := range media {
		repl, ok := fn(m)
		if !ok {
			continue
		}
		b.WriteString(markup[last:m.Start])
		b.WriteString(repl)
		last = m.End
	}
	b.WriteString(markup[last:])
	return b.String()
}

// Refs returns every src/href value in document order.
func Refs(markup string) []Ref {
	matches := refAttrRe.FindAllStringSubmatch(markup, -1)
	out := make([]Ref, 0, len(matches))
	for _, m := range matches {
		out = append(out, Ref{Attr: strings.ToLower(m[1]), Value: m[2]})
	}
	return out
}

// RewriteRefs rewrites src/href values. fn returns the new value and whether
// to replace; everything else in the markup is preserved byte for byte.
func RewriteRefs(markup string, fn func(attr, value string) (string, bool)) string {
	idx := refAttrRe.FindAllStringSubmatchIndex(markup, -1)
	if len(idx) == 0 {
		return markup
	}
	var b strings.Builder
	b.Grow(len(markup))
	last := 0
	for _, m := range idx {
		attr := strings.ToLower(markup[m[2]:m[3]])
		valStart, valEnd := m[4], m[5]
		repl, ok := fn(attr, markup[valStart:valEnd])
		if !ok {
			continue
		}
		b.WriteString(markup[last:valStart])
		b.WriteString(repl)
		last = valEnd
	}
	b.WriteString(markup[last:])
	return b.String()
}

// NoteLinks returns deduplicated external ids referenced via note:// hrefs.
func NoteLinks(markup string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range Refs(markup) {
		if r.Attr != "href" {
			continue
		}
		target, ok := NoteLinkTarget(r.Value)
		if !ok || target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// NoteLinkTarget returns the external id a note:// reference points at.
func NoteLinkTarget(value string) (string, bool) {
	if !strings.HasPrefix(value, NoteLinkScheme) {
		return "", false
	}
	target := strings.TrimSpace(strings.TrimPrefix(value, NoteLinkScheme))
	return strings.TrimSuffix(target, "/"), true
}

// EscapeAttr escapes a string for use inside a double-quoted attribute.
func EscapeAttr(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}

// EscapeText escapes a string for use as element text.
func EscapeText(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}
