package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("write conflict")
	ErrCorruptRecord = errors.New("corrupt record")
	ErrClosed        = errors.New("store closed")
)
