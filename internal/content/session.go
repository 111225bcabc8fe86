package content

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/quire/internal/parser"
)

// ErrUnmappedLocator is returned in strict mode when a display locator has no
// recorded durable reference.
var ErrUnmappedLocator = errors.New("content: unmapped display locator")

const assetsPath = "/assets/"

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithStrict makes ToStorageForm fail on locators it did not hand out.
func WithStrict(strict bool) SessionOption {
	return func(s *Session) {
		s.strict = strict
	}
}

// Session owns the display-locator mapping for one application run. Locators
// are random per session, so the storage form can only be recovered through
// the reverse lookup recorded here.
type Session struct {
	id      string
	prefix  string
	strict  bool
	mu      sync.RWMutex
	forward map[string]string // durable -> locator
	reverse map[string]string // token -> durable
}

// NewSession creates a session whose locators live under baseURL/assets/.
func NewSession(baseURL string, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		prefix:  strings.TrimSuffix(baseURL, "/") + assetsPath,
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID identifies the session.
func (s *Session) ID() string {
	return s.id
}

// LocatorPrefix is the common prefix of every locator this session issues.
func (s *Session) LocatorPrefix() string {
	return s.prefix
}

// Locator returns the display locator for a durable reference, minting one on
// first use.
func (s *Session) Locator(durable string) string {
	s.mu.RLock()
	loc, ok := s.forward[durable]
	s.mu.RUnlock()
	if ok {
		return loc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if loc, ok := s.forward[durable]; ok {
		return loc
	}
	token := uuid.NewString()
	loc = s.prefix + token
	s.forward[durable] = loc
	s.reverse[token] = durable
	return loc
}

// Resolve maps a locator token back to its durable reference.
func (s *Session) Resolve(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	durable, ok := s.reverse[token]
	return durable, ok
}

// MediaLookup maps an <en-media> hash and declared type to the durable
// reference of its stored bytes.
type MediaLookup func(hash, mime string) (durable string, ok bool)

// ToDisplayForm replaces durable asset references with session locators.
// When media is non-nil every <en-media> it can place also gets a src
// locator; elements that already carry a src are left alone.
func (s *Session) ToDisplayForm(markup string, media MediaLookup) string {
	if media != nil {
		in := markup
		markup = parser.ReplaceMedia(in, func(m parser.Media) (string, bool) {
			if hasAttr(m.Attrs, "src") {
				return "", false
			}
			durable, ok := media(m.Hash, m.Mime)
			if !ok || !IsDurable(durable) {
				return "", false
			}
			el := in[m.Start:m.End]
			n := len(mediaOpen)
			return el[:n] + ` src="` + parser.EscapeAttr(s.Locator(durable)) + `"` + el[n:], true
		})
	}
	return parser.RewriteRefs(markup, func(_, value string) (string, bool) {
		if !IsDurable(value) {
			return "", false
		}
		return s.Locator(value), true
	})
}

// ToStorageForm restores durable references for locators issued by this
// session, and drops the src locators ToDisplayForm added to <en-media>.
// Stored <en-media> elements never carry a src of their own. Unknown locators
// pass through unchanged unless the session is strict.
func (s *Session) ToStorageForm(markup string) (string, error) {
	in := markup
	markup = parser.ReplaceMedia(in, func(m parser.Media) (string, bool) {
		loc, ok := attrValue(m.Attrs, "src")
		if !ok || !strings.HasPrefix(loc, s.prefix) {
			return "", false
		}
		if _, ok := s.Resolve(strings.TrimPrefix(loc, s.prefix)); !ok {
			return "", false
		}
		el := in[m.Start:m.End]
		return strings.Replace(el, ` src="`+loc+`"`, "", 1), true
	})

	var unmapped []string
	out := parser.RewriteRefs(markup, func(_, value string) (string, bool) {
		if !strings.HasPrefix(value, s.prefix) {
			return "", false
		}
		durable, ok := s.Resolve(strings.TrimPrefix(value, s.prefix))
		if !ok {
			unmapped = append(unmapped, value)
			return "", false
		}
		return durable, true
	})
	if s.strict && len(unmapped) > 0 {
		return in, fmt.Errorf("%w: %s", ErrUnmappedLocator, strings.Join(unmapped, ", "))
	}
	return out, nil
}

const mediaOpen = "<en-media"

func attrValue(attrs []parser.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return "", false
}

func hasAttr(attrs []parser.Attr, name string) bool {
	_, ok := attrValue(attrs, name)
	return ok
}
