package service

import (
	"errors"

	"chamapay/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidOTP         = errors.New("invalid or expired code")
	ErrNotFound           = store.ErrNotFound
	ErrStateConflict      = store.ErrStateConflict
	ErrConflict           = store.ErrConflict
	ErrLoginExists        = errors.New("login already exists")
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrUnmatchedCallback  = errors.New("callback matches no withdrawal or transaction")
)
