// Package reminder computes the reminder status of notes.
package reminder

import (
	"time"

	"github.com/starford/ansuz/internal/models"
)

// Kinds of reminder status.
const (
	None    = "none"
	Pending = "pending"
	Overdue = "overdue"
)

// Status is the evaluated reminder state of one note at a point in time.
// At is the zero time when Kind is None.
type Status struct {
	Kind string
	At   time.Time
}

// Evaluate returns the note's reminder status at now. It never mutates the
// note and is re-evaluated on every render pass since now advances: a
// reminder is pending strictly before its instant and overdue from that
// instant on.
func Evaluate(n models.Note, now time.Time) Status {
	if n.Reminder == nil {
		return Status{Kind: None}
	}
	if n.Reminder.After(now) {
		return Status{Kind: Pending, At: *n.Reminder}
	}
	return Status{Kind: Overdue, At: *n.Reminder}
}
