// Package ota fetches and applies firmware images. An update runs in the
// background and is observed by polling Tick from the scheduler, which sees
// Started, zero or more Progress, then exactly one Finished.
package ota

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Begin while an update is in progress.
var ErrBusy = errors.New("update already in progress")

// EventKind identifies a polled update event.
type EventKind int

const (
	None EventKind = iota
	Started
	Progress
	Finished
)

func (k EventKind) String() string {
	switch k {
	case None:
		return "none"
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// ResultKind is the outcome of a finished update.
type ResultKind int

const (
	Applied ResultKind = iota
	NotNeeded
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case Applied:
		return "applied"
	case NotNeeded:
		return "not-needed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Failure codes for local errors. Server errors carry the HTTP status code.
const (
	CodeRequest = -1 // request could not be made or was interrupted
	CodeEmpty   = -2 // server sent no image
	CodeWrite   = -3 // image could not be written or installed
	CodeTarget  = -4 // running image could not be read
)

// Failure describes a failed update.
type Failure struct {
	Code   int
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("update failed (%d): %s", f.Code, f.Detail)
}

// Result is the outcome of a finished update. Code and Detail are set only
// for Failed.
type Result struct {
	Kind   ResultKind
	Code   int
	Detail string
}

// Err returns a *Failure for a failed result, nil otherwise.
func (r Result) Err() error {
	if r.Kind != Failed {
		return nil
	}
	return &Failure{Code: r.Code, Detail: r.Detail}
}

func failed(code int, format string, args ...interface{}) Result {
	return Result{Kind: Failed, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Event is one polled update event. Percent is set for Progress when the
// image size is known; Result is set for Finished.
type Event struct {
	Kind    EventKind
	URL     string
	Percent int
	Result  Result
}

// Updater is the remote-update collaborator.
type Updater interface {
	// Begin starts an update from url and returns immediately.
	Begin(url string) error

	// Tick returns the next pending event, or an event of kind None.
	Tick() Event
}
