// Package calendar defines the store abstraction the sync engine talks to
// and two concrete backends: an in-memory store for tests and dry runs, and
// a directory-backed store holding one .ics file per event.
package calendar

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports that a targeted event no longer exists in the store.
// Callers match it with errors.Is; it is expected during normal operation
// when events are deleted externally between runs.
var ErrNotFound = errors.New("event not found")

// Client is one calendar's store. Create may rewrite the identifier embedded
// in the supplied text; callers must use the returned UID, not the one they
// sent.
type Client interface {
	// ID identifies the calendar, used for state scoping and logging.
	ID() string

	// FetchAll returns the raw text of every event in the calendar. An
	// error here means the calendar is unreachable.
	FetchAll(ctx context.Context) ([]string, error)

	// Create adds an event and returns the UID the store assigned to it.
	Create(ctx context.Context, text string) (string, error)

	// Modify replaces the event whose UID is embedded in text. Returns
	// ErrNotFound if no such event exists.
	Modify(ctx context.Context, text string) error

	// Remove deletes the event with the given UID. Returns ErrNotFound
	// if it is already gone.
	Remove(ctx context.Context, uid string) error

	// Fetch returns the stored text for one event, or ErrNotFound.
	Fetch(ctx context.Context, uid string) (string, error)
}

// IsNotFound reports whether err means the targeted event does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(id, uid string) error {
	return fmt.Errorf("calendar %s: uid %s: %w", id, uid, ErrNotFound)
}
