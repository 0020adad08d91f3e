// Package sync implements the synchronization engine: the forward, reverse,
// and bidirectional algorithms plus the refresh/clear lifecycle operations,
// composed from the event model, the calendar store abstraction, and the
// pair-scoped state store.
package sync

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"calmirror/internal/calendar"
	"calmirror/internal/ics"
	"calmirror/internal/logging"
	"calmirror/internal/state"
)

// Options tunes a run.
type Options struct {
	// KeepReminders carries alarm sub-components over onto mirrors.
	KeepReminders bool

	// DryRun logs every planned operation and counts it, but performs no
	// calendar or state mutation.
	DryRun bool
}

// Engine drives synchronization for one calendar pair. Source is the pair's
// forward-direction authority (the "work" side in a typical setup), target
// the calendar receiving full mirrors.
type Engine struct {
	source calendar.Client
	target calendar.Client
	store  *state.Store
	opts   Options
	log    *slog.Logger
}

// New builds an engine over the two calendars and their pair-scoped store.
func New(source, target calendar.Client, store *state.Store, opts Options) *Engine {
	return &Engine{
		source: source,
		target: target,
		store:  store,
		opts:   opts,
		log:    logging.With(logging.Pair(source.ID(), target.ID())),
	}
}

// fetchResolved pulls one calendar's full event set and narrows it to the
// mirrorable subset. The returned raw map additionally holds every master
// event by UID, managed mirrors included, for presence checks.
func (e *Engine) fetchResolved(ctx context.Context, c calendar.Client) (*ics.Resolved, map[string]string, error) {
	texts, err := c.FetchAll(ctx)
	if err != nil {
		return nil, nil, &ConnectivityError{Calendar: c.ID(), Err: err}
	}

	raw := make(map[string]string)
	for _, text := range texts {
		ev, err := ics.Parse(text)
		if err != nil {
			continue
		}
		if _, isException := ev.RecurrenceID(); isException {
			continue
		}
		if uid := ev.UID(); uid != "" {
			raw[uid] = ev.Serialize()
		}
	}

	resolved := ics.Resolve(texts)
	if resolved.Unparsed > 0 {
		e.log.Warn("skipped unparseable events",
			logging.Calendar(c.ID()), logging.Count(resolved.Unparsed))
	}
	e.log.Debug("resolved calendar events",
		logging.Calendar(c.ID()), logging.Count(len(resolved.Events)))
	return resolved, raw, nil
}

// newMirrorUID generates the identifier proposed for a new mirror event.
// Backends may still replace it on create.
func newMirrorUID() string {
	return "calmirror-" + uuid.NewString()
}

// createMirror sanitizes an event and creates its mirror in dst. When the
// orphan index already knows a mirror for this event, that mirror is adopted
// instead of creating a duplicate. Returns the mirror's UID and content
// hash.
func (e *Engine) createMirror(
	ctx context.Context,
	dst calendar.Client,
	re *ics.ResolvedEvent,
	mode ics.Mode,
	orphans map[string]string,
) (string, string, error) {
	if existing, ok := orphans[ics.Fingerprint(re.Key)]; ok {
		e.log.Info("adopting orphaned mirror",
			logging.UID(re.Key), logging.Calendar(dst.ID()),
			slog.String("mirror_uid", existing))
		text, err := dst.Fetch(ctx, existing)
		if err != nil {
			return "", "", err
		}
		return existing, ics.ComputeHash(text), nil
	}

	mirror, err := ics.Sanitize(re.Text, newMirrorUID(), ics.SanitizeOptions{
		Mode:          mode,
		KeepReminders: e.opts.KeepReminders,
		SourceUID:     re.Key,
	})
	if err != nil {
		return "", "", err
	}
	serialized := mirror.Serialize()

	if e.opts.DryRun {
		e.log.Info("dry-run: would create mirror",
			logging.UID(re.Key), logging.Calendar(dst.ID()))
		return mirror.UID(), ics.ComputeHash(serialized), nil
	}

	assigned, err := dst.Create(ctx, serialized)
	if err != nil {
		return "", "", err
	}

	// Read the stored copy back: the backend may have rewritten the
	// identifier or added properties, and the recorded hash must match
	// what the next fetch will return.
	hash := ics.ComputeHash(serialized)
	if stored, err := dst.Fetch(ctx, assigned); err == nil {
		hash = ics.ComputeHash(stored)
	}
	return assigned, hash, nil
}

// updateMirror sanitizes the event against the existing mirror UID and
// modifies it in place. If the modify fails, whether because the mirror is
// externally gone or because the backend rejected the write, it recreates
// under a fresh identifier. Returns the mirror's (possibly new) UID and
// hash, and whether a recreate happened.
func (e *Engine) updateMirror(
	ctx context.Context,
	dst calendar.Client,
	re *ics.ResolvedEvent,
	mirrorUID string,
	mode ics.Mode,
) (string, string, bool, error) {
	mirror, err := ics.Sanitize(re.Text, mirrorUID, ics.SanitizeOptions{
		Mode:          mode,
		KeepReminders: e.opts.KeepReminders,
		SourceUID:     re.Key,
	})
	if err != nil {
		return "", "", false, err
	}
	serialized := mirror.Serialize()

	if e.opts.DryRun {
		e.log.Info("dry-run: would update mirror",
			logging.UID(re.Key), logging.Calendar(dst.ID()))
		return mirrorUID, ics.ComputeHash(serialized), false, nil
	}

	err = dst.Modify(ctx, serialized)
	if err == nil {
		hash := ics.ComputeHash(serialized)
		if stored, ferr := dst.Fetch(ctx, mirrorUID); ferr == nil {
			hash = ics.ComputeHash(stored)
		}
		return mirrorUID, hash, false, nil
	}
	// Recreate under a fresh identifier. A vanished mirror is the usual
	// case; any other modify failure gets the same fallback after removing
	// whatever copy the backend still holds.
	if calendar.IsNotFound(err) {
		e.log.Debug("mirror gone, recreating",
			logging.UID(re.Key), logging.Calendar(dst.ID()))
	} else {
		e.log.Warn("modify failed, recreating mirror",
			logging.UID(re.Key), logging.Calendar(dst.ID()), logging.Err(err))
		if rerr := e.removeMirror(ctx, dst, mirrorUID); rerr != nil {
			return "", "", false, rerr
		}
	}
	assigned, hash, err := e.createMirror(ctx, dst, re, mode, nil)
	if err != nil {
		return "", "", false, err
	}
	return assigned, hash, true, nil
}

// removeMirror deletes a mirror, treating an already-gone mirror as success.
func (e *Engine) removeMirror(ctx context.Context, dst calendar.Client, uid string) error {
	if e.opts.DryRun {
		e.log.Info("dry-run: would remove mirror",
			logging.UID(uid), logging.Calendar(dst.ID()))
		return nil
	}
	err := dst.Remove(ctx, uid)
	if err != nil && !calendar.IsNotFound(err) {
		return err
	}
	return nil
}
