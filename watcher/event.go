package watcher

import "github.com/fsnotify/fsnotify"

// Kind classifies a change. Only Created and Modified are acted on.
type Kind int

const (
	Other Kind = iota
	Created
	Modified
	Removed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Removed:
		return "Removed"
	default:
		return "Other"
	}
}

// ChangeEvent is a single filesystem change as delivered to the controller.
type ChangeEvent struct {
	Kind Kind
	Path string
}

// Actionable reports whether the event carries a path worth filtering.
func (e ChangeEvent) Actionable() bool {
	return e.Kind == Created || e.Kind == Modified
}

func fromFsnotify(ev fsnotify.Event) ChangeEvent {
	change := ChangeEvent{Path: ev.Name}

	switch {
	case ev.Has(fsnotify.Create):
		change.Kind = Created
	case ev.Has(fsnotify.Write):
		change.Kind = Modified
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		change.Kind = Removed
	default:
		change.Kind = Other
	}

	return change
}
