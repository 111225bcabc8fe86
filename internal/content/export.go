// Package content rewrites embedded resource references between their
// storage, display, and export encodings.
package content

import (
	"path"
	"regexp"
	"strings"

	"github.com/starford/quire/internal/parser"
)

// durableRe matches a durable asset reference: hh/<hash>[.ext].
var durableRe = regexp.MustCompile(`^([0-9a-f]{2})/([0-9a-f]{2,})(\.[a-z0-9]+)?$`)

// AssetRef describes where a resolved attachment lives in the export.
type AssetRef struct {
	RelPath  string // hh/hash[.ext], relative to the asset directory
	Filename string
	Mime     string
}

// IsDurable reports whether ref is a storage-form asset reference.
func IsDurable(ref string) bool {
	m := durableRe.FindStringSubmatch(ref)
	return m != nil && strings.HasPrefix(m[2], m[1])
}

// JoinBase joins an export base directory and an asset path with forward slashes.
func JoinBase(base, rel string) string {
	base = strings.TrimSuffix(strings.ReplaceAll(base, `\`, "/"), "/")
	if base == "" || base == "." {
		return rel
	}
	return path.Join(base, rel)
}

// ToExportForm rewrites every <en-media> element whose hash is in refs into a
// portable <img> or <a> pointing at base/relPath. Unresolved hashes are left
// as they are.
func ToExportForm(markup string, refs map[string]AssetRef, base string) string {
	if len(refs) == 0 {
		return markup
	}
	return parser.ReplaceMedia(markup, func(m parser.Media) (string, bool) {
		ref, ok := refs[m.Hash]
		if !ok || ref.RelPath == "" {
			return "", false
		}
		target := JoinBase(base, ref.RelPath)
		mime := m.Mime
		if mime == "" {
			mime = ref.Mime
		}
		label := ref.Filename
		if label == "" {
			label = path.Base(ref.RelPath)
		}
		return exportElement(target, label, mime, m.Attrs), true
	})
}

func exportElement(target, label, mime string, attrs []parser.Attr) string {
	var b strings.Builder
	if strings.HasPrefix(strings.ToLower(mime), "image/") {
		b.WriteString(`<img src="`)
		b.WriteString(parser.EscapeAttr(target))
		b.WriteString(`" alt="`)
		b.WriteString(parser.EscapeAttr(label))
		b.WriteString(`"`)
		writeAttrs(&b, attrs)
		b.WriteString(`/>`)
		return b.String()
	}
	b.WriteString(`<a href="`)
	b.WriteString(parser.EscapeAttr(target))
	b.WriteString(`"`)
	writeAttrs(&b, attrs)
	b.WriteString(`>`)
	b.WriteString(parser.EscapeText(label))
	b.WriteString(`</a>`)
	return b.String()
}

func writeAttrs(b *strings.Builder, attrs []parser.Attr) {
	for _, a := range attrs {
		switch strings.ToLower(a.Name) {
		case "src", "href", "alt":
			continue
		}
		b.WriteString(" ")
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(a.Value)
		b.WriteString(`"`)
	}
}

// FromExportForm turns base-prefixed asset references back into durable
// references. References that do not point into base are left alone.
func FromExportForm(markup, base string) string {
	prefix := JoinBase(base, "")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return parser.RewriteRefs(markup, func(_, value string) (string, bool) {
		if !strings.HasPrefix(value, prefix) {
			return "", false
		}
		rel := strings.TrimPrefix(value, prefix)
		if !IsDurable(rel) {
			return "", false
		}
		return rel, true
	})
}
