// Package docstore reads and appends per-note document update logs.
//
// A log lives at <root>/<ext[0:3]>/<ext[-3:]>/<ext>.dat where ext is the
// note's external id. The file starts with the magic "QDL" and a version
// byte, followed by length-prefixed updates. Replaying the updates yields the
// note's title, body markup, style map and metadata map.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Field identifies which part of a document an update touches.
type Field byte

const (
	FieldTitle Field = 1
	FieldBody  Field = 2
	FieldStyle Field = 3
	FieldMeta  Field = 4
)

const (
	magic       = "QDL"
	version     = 0x01
	flagDelete  = 0x01
	logExt      = ".dat"
	maxFieldLen = 64 << 20
)

var errInvalidID = errors.New("docstore: invalid external id")

// Status is the outcome of decoding one note's log.
type Status int

const (
	StatusNotFound Status = iota
	StatusOK
	StatusDecodeError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusDecodeError:
		return "decode_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Document is the replayed state of a note's log.
type Document struct {
	Title string
	Body  string
	Style map[string]json.RawMessage
	Meta  map[string]json.RawMessage
}

// Result is returned by Decode. Doc is set only for StatusOK and Err only for
// StatusDecodeError.
type Result struct {
	Status Status
	Path   string
	Doc    *Document
	Err    string
}

// Found reports whether a log file existed for the note.
func (r Result) Found() bool {
	return r.Status != StatusNotFound
}

// Update is a single entry in a document log.
type Update struct {
	Client uint64
	Clock  uint64
	Field  Field
	Key    string
	Delete bool
	Value  []byte
}

// Path returns the log location for externalID under root.
func Path(root, externalID string) (string, error) {
	if err := validateID(externalID); err != nil {
		return "", err
	}
	first, last := externalID, externalID
	if len(externalID) >= 3 {
		first, last = externalID[:3], externalID[len(externalID)-3:]
	}
	return filepath.Join(root, first, last, externalID+logExt), nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", errInvalidID, id)
	}
	return nil
}

// IDFromPath extracts the external id from a log file path.
func IDFromPath(p string) (string, bool) {
	base := filepath.Base(p)
	if !strings.HasSuffix(base, logExt) {
		return "", false
	}
	id := strings.TrimSuffix(base, logExt)
	if validateID(id) != nil {
		return "", false
	}
	return id, true
}

func validField(f Field) bool {
	return f >= FieldTitle && f <= FieldMeta
}

// scalar reports whether v is a single valid JSON scalar.
func scalar(v []byte) bool {
	if !json.Valid(v) {
		return false
	}
	s := strings.TrimSpace(string(v))
	return s != "" && s[0] != '{' && s[0] != '['
}
