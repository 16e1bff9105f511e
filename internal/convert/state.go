package convert

import (
	u "kdocs2pdf/internal/utils"
)

// State is the progress of one conversion attempt.
type State string

const (
	StateIdle             State = "idle"
	StateNavigating       State = "navigating"
	StateWaitingForReady  State = "waiting_for_ready"
	StateExporting        State = "exporting"
	StateAwaitingDownload State = "awaiting_download"
	StateSaved            State = "saved"
	StateFailed           State = "failed"
	StateClosed           State = "closed"
)

// attempt tracks the state of a single conversion for logging.
type attempt struct {
	fileID  string
	state   State
	history []State
}

func (a *attempt) to(next State) {
	prev := a.state
	if prev == "" {
		prev = StateIdle
	}
	a.state = next
	a.history = append(a.history, next)
	u.Debug("Conversion state", "file_id", a.fileID, "from", prev, "to", next)
}
