package store

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSettingsMissing = errors.New("settings not found")
)
