package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownStyle  = errors.New("unknown style")
	ErrSigningFailed = errors.New("signing failed")
)
