// Package domain holds the error vocabulary shared by the conversion pipeline
// and the HTTP layer. It has no transport or browser dependencies.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected before any browser work.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks a missing or unknown API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound marks a file that is not in the store.
	ErrNotFound = errors.New("file not found")
	// ErrTimeout marks a browser wait that ran out of time.
	ErrTimeout = errors.New("timed out")
	// ErrInteraction marks a UI element that could not be found or clicked.
	ErrInteraction = errors.New("ui interaction failed")
	// ErrDownload marks a download that failed, was canceled or could not be stored.
	ErrDownload = errors.New("download failed")
)

// Stage names a step of a conversion attempt.
type Stage string

const (
	StageLaunch   Stage = "launch"
	StageNavigate Stage = "navigate"
	StageReady    Stage = "wait_ready"
	StageExport   Stage = "export"
	StageDownload Stage = "download"
	StageSave     Stage = "save"
)

// ConversionError reports which stage of a conversion failed. Err wraps one of
// the sentinel errors above when the cause is known.
type ConversionError struct {
	Stage  Stage
	Detail string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
