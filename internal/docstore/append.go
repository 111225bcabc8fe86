package docstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// EncodeUpdate returns the length-prefixed wire form of u.
func EncodeUpdate(u Update) []byte {
	payload := make([]byte, 0, 32+len(u.Key)+len(u.Value))
	payload = binary.AppendUvarint(payload, u.Client)
	payload = binary.AppendUvarint(payload, u.Clock)
	payload = append(payload, byte(u.Field))
	payload = binary.AppendUvarint(payload, uint64(len(u.Key)))
	payload = append(payload, u.Key...)
	var flags byte
	if u.Delete {
		flags |= flagDelete
	}
	payload = append(payload, flags)
	payload = binary.AppendUvarint(payload, uint64(len(u.Value)))
	payload = append(payload, u.Value...)

	out := binary.AppendUvarint(make([]byte, 0, len(payload)+binary.MaxVarintLen64), uint64(len(payload)))
	return append(out, payload...)
}

// Header returns the bytes every log file starts with.
func Header() []byte {
	return append([]byte(magic), version)
}

// Append adds updates to the log for externalID, creating it if needed.
// Existing bytes are never rewritten.
func Append(root, externalID string, updates ...Update) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if !validField(u.Field) {
			return fmt.Errorf("docstore: append: unknown field %d", u.Field)
		}
		if !u.Delete && (u.Field == FieldStyle || u.Field == FieldMeta) && !scalar(u.Value) {
			return fmt.Errorf("docstore: append: value for %q is not a JSON scalar", u.Key)
		}
	}
	p, err := Path(root, externalID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("docstore: mkdir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("docstore: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("docstore: stat: %w", err)
	}
	var buf []byte
	if info.Size() == 0 {
		buf = Header()
	}
	for _, u := range updates {
		buf = append(buf, EncodeUpdate(u)...)
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("docstore: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("docstore: sync: %w", err)
	}
	return nil
}

// Remove deletes the log for externalID. A missing log is not an error.
func Remove(root, externalID string) error {
	p, err := Path(root, externalID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("docstore: remove: %w", err)
	}
	return nil
}

// Writer appends whole-document changes as a single client. Writes for the
// same root are serialized so clocks stay monotonic.
type Writer struct {
	root   string
	client uint64
	mu     sync.Mutex
}

// NewWriter returns a Writer appending under root as client.
func NewWriter(root string, client uint64) *Writer {
	return &Writer{root: root, client: client}
}

// Root returns the log root directory.
func (w *Writer) Root() string {
	return w.root
}

// Put records doc as the new state of externalID. Only fields that differ
// from the replayed state are appended; style and meta keys missing from doc
// are deleted.
func (w *Writer) Put(externalID string, doc Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := &Document{Style: map[string]json.RawMessage{}, Meta: map[string]json.RawMessage{}}
	var clock uint64
	res := Decode(w.root, externalID)
	switch res.Status {
	case StatusDecodeError:
		return fmt.Errorf("docstore: put %s: existing log unreadable: %s", externalID, res.Err)
	case StatusOK:
		current = res.Doc
		data, err := os.ReadFile(res.Path)
		if err != nil {
			return fmt.Errorf("docstore: put %s: %w", externalID, err)
		}
		updates, err := ParseLog(data)
		if err != nil {
			return fmt.Errorf("docstore: put %s: %w", externalID, err)
		}
		for _, u := range updates {
			clock = max(clock, u.Clock)
		}
	}
	clock++

	var updates []Update
	add := func(field Field, key string, value []byte, del bool) {
		updates = append(updates, Update{Client: w.client, Clock: clock, Field: field, Key: key, Value: value, Delete: del})
	}
	if res.Status != StatusOK || current.Title != doc.Title {
		add(FieldTitle, "", []byte(doc.Title), false)
	}
	if res.Status != StatusOK || current.Body != doc.Body {
		add(FieldBody, "", []byte(doc.Body), false)
	}
	diffMap(FieldStyle, current.Style, doc.Style, add)
	diffMap(FieldMeta, current.Meta, doc.Meta, add)
	return Append(w.root, externalID, updates...)
}

// Remove deletes the log for externalID.
func (w *Writer) Remove(externalID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Remove(w.root, externalID)
}

func diffMap(field Field, old, next map[string]json.RawMessage, add func(Field, string, []byte, bool)) {
	keys := make([]string, 0, len(next))
	for k := range next {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if prev, ok := old[k]; ok && string(prev) == string(next[k]) {
			continue
		}
		add(field, k, next[k], false)
	}
	var gone []string
	for k := range old {
		if _, ok := next[k]; !ok {
			gone = append(gone, k)
		}
	}
	sort.Strings(gone)
	for _, k := range gone {
		add(field, k, nil, true)
	}
}
