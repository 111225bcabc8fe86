package docstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
)

// Decode locates and replays the log for externalID. It never writes to the
// log and never returns a Go error: absence and corruption are reported in
// the Result.
func Decode(root, externalID string) Result {
	if externalID == "" {
		return Result{Status: StatusNotFound}
	}
	p, err := Path(root, externalID)
	if err != nil {
		return Result{Status: StatusDecodeError, Err: err.Error()}
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{Status: StatusNotFound, Path: p}
	}
	if err != nil {
		return Result{Status: StatusDecodeError, Path: p, Err: err.Error()}
	}
	updates, err := ParseLog(data)
	if err != nil {
		return Result{Status: StatusDecodeError, Path: p, Err: err.Error()}
	}
	return Result{Status: StatusOK, Path: p, Doc: Replay(updates)}
}

// ParseLog parses a whole log file into its updates.
func ParseLog(data []byte) ([]Update, error) {
	if len(data) < len(magic)+1 || string(data[:len(magic)]) != magic {
		return nil, errors.New("docstore: bad magic")
	}
	if v := data[len(magic)]; v != version {
		return nil, fmt.Errorf("docstore: unsupported version %d", v)
	}
	r := &reader{buf: data[len(magic)+1:]}
	var updates []Update
	for r.len() > 0 {
		payload, err := r.bytes()
		if err != nil {
			return nil, fmt.Errorf("docstore: update %d: %w", len(updates), err)
		}
		u, err := parseUpdate(payload)
		if err != nil {
			return nil, fmt.Errorf("docstore: update %d: %w", len(updates), err)
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func parseUpdate(payload []byte) (Update, error) {
	r := &reader{buf: payload}
	var u Update
	var err error
	if u.Client, err = r.uvarint(); err != nil {
		return u, fmt.Errorf("client: %w", err)
	}
	if u.Clock, err = r.uvarint(); err != nil {
		return u, fmt.Errorf("clock: %w", err)
	}
	f, err := r.byte()
	if err != nil {
		return u, fmt.Errorf("field: %w", err)
	}
	u.Field = Field(f)
	if !validField(u.Field) {
		return u, fmt.Errorf("unknown field %d", f)
	}
	key, err := r.bytes()
	if err != nil {
		return u, fmt.Errorf("key: %w", err)
	}
	u.Key = string(key)
	flags, err := r.byte()
	if err != nil {
		return u, fmt.Errorf("flags: %w", err)
	}
	u.Delete = flags&flagDelete != 0
	if u.Value, err = r.bytes(); err != nil {
		return u, fmt.Errorf("value: %w", err)
	}
	if r.len() != 0 {
		return u, fmt.Errorf("%d trailing bytes", r.len())
	}
	if !u.Delete && (u.Field == FieldStyle || u.Field == FieldMeta) && !scalar(u.Value) {
		return u, fmt.Errorf("value for %q is not a JSON scalar", u.Key)
	}
	return u, nil
}

// Replay applies updates in (clock, client) order, last writer wins per
// field and key. The input slice is not modified.
func Replay(updates []Update) *Document {
	ordered := make([]Update, len(updates))
	copy(ordered, updates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Clock != ordered[j].Clock {
			return ordered[i].Clock < ordered[j].Clock
		}
		return ordered[i].Client < ordered[j].Client
	})

	doc := &Document{
		Style: map[string]json.RawMessage{},
		Meta:  map[string]json.RawMessage{},
	}
	for _, u := range ordered {
		switch u.Field {
		case FieldTitle:
			doc.Title = textValue(u)
		case FieldBody:
			doc.Body = textValue(u)
		case FieldStyle:
			applyMap(doc.Style, u)
		case FieldMeta:
			applyMap(doc.Meta, u)
		}
	}
	return doc
}

func textValue(u Update) string {
	if u.Delete {
		return ""
	}
	return string(u.Value)
}

func applyMap(m map[string]json.RawMessage, u Update) {
	if u.Delete {
		delete(m, u.Key)
		return
	}
	m[u.Key] = json.RawMessage(append([]byte(nil), u.Value...))
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) len() int { return len(r.buf) - r.off }

func (r *reader) byte() (byte, error) {
	if r.len() < 1 {
		return 0, errTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		return 0, errTruncated
	}
	if n < 0 {
		return 0, errors.New("varint overflow")
	}
	r.off += n
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > maxFieldLen || n > uint64(r.len()) {
		return nil, errTruncated
	}
	out := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return out, nil
}

var errTruncated = errors.New("truncated")
