package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSessionTerminal   = errors.New("session already terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
)
