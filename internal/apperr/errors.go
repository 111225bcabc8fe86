// Package apperr holds the error values shared across the command layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidMove   = errors.New("invalid move")
	ErrInvalidInput  = errors.New("invalid input")
)

// MoveError reports a rejected reparent. It matches ErrInvalidMove.
type MoveError struct {
	NodeID   int64
	ParentID *int64
	Reason   string
}

func (e *MoveError) Error() string {
	if e.ParentID == nil {
		return fmt.Sprintf("cannot move %d to root: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("cannot move %d under %d: %s", e.NodeID, *e.ParentID, e.Reason)
}

func (e *MoveError) Is(target error) bool {
	return target == ErrInvalidMove
}
