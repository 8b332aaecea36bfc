package ota

// FakeUpdater records Begin calls and replays scripted events.
type FakeUpdater struct {
	// URLs contains every url passed to a successful Begin.
	URLs []string

	// BeginError, if set, will be returned by Begin.
	BeginError error

	// Script is the event sequence queued by each successful Begin. If
	// empty, Begin queues Started then Finished with Result.
	Script []Event

	// Result is used by the default script.
	Result Result

	pending []Event
}

// NewFakeUpdater creates a FakeUpdater whose updates finish NotNeeded.
func NewFakeUpdater() *FakeUpdater {
	return &FakeUpdater{Result: Result{Kind: NotNeeded}}
}

// Begin records url and queues the script.
func (f *FakeUpdater) Begin(url string) error {
	if f.BeginError != nil {
		return f.BeginError
	}
	if len(f.pending) > 0 {
		return ErrBusy
	}
	f.URLs = append(f.URLs, url)

	script := f.Script
	if len(script) == 0 {
		script = []Event{{Kind: Started}, {Kind: Finished, Result: f.Result}}
	}
	for _, ev := range script {
		ev.URL = url
		f.pending = append(f.pending, ev)
	}
	return nil
}

// Tick pops the next queued event.
func (f *FakeUpdater) Tick() Event {
	if len(f.pending) == 0 {
		return Event{Kind: None}
	}
	ev := f.pending[0]
	f.pending = f.pending[1:]
	return ev
}
