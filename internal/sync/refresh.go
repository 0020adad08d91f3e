package sync

import (
	"context"
	"log/slog"

	"calmirror/internal/calendar"
	"calmirror/internal/ics"
	"calmirror/internal/logging"
	"calmirror/internal/progress"
	"calmirror/internal/state"
)

// Refresh tears down every mirror this pair created and clears its records,
// leaving the next normal pass to rebuild everything from scratch.
func (e *Engine) Refresh(ctx context.Context) (Stats, error) {
	return e.scrub(ctx, "refresh")
}

// Clear is Refresh without the implied rebuild: it decommissions the pair.
// The caller simply does not run another sync afterwards.
func (e *Engine) Clear(ctx context.Context) (Stats, error) {
	return e.scrub(ctx, "clear")
}

func (e *Engine) scrub(ctx context.Context, op string) (Stats, error) {
	var stats Stats
	log := e.log.With(logging.Operation(op))

	records, err := e.store.All()
	if err != nil {
		return stats, err
	}

	if len(records) == 0 {
		// No records, possibly because a migration purged them. Fall
		// back to finding mirrors by their ownership tag.
		log.Info("no state records, scanning calendars for managed events")
		for _, c := range []calendar.Client{e.target, e.source} {
			s, err := e.scrubManaged(ctx, log, c)
			stats.merge(s)
			if err != nil {
				return stats, err
			}
		}
		return stats, nil
	}

	bar := progress.Simple(int64(len(records)), "Removing mirrors")
	for _, rec := range records {
		bar.Add(1)
		mirror, uid := e.target, rec.TargetUID
		if rec.Origin == state.OriginTarget {
			mirror, uid = e.source, rec.SourceUID
		}
		if err := e.removeMirror(ctx, mirror, uid); err != nil {
			log.Error("remove mirror failed",
				logging.UID(uid), logging.Calendar(mirror.ID()), logging.Err(err))
			stats.Errors++
			continue
		}
		stats.Deleted++
	}
	bar.Finish()

	if !e.opts.DryRun {
		if err := e.store.ClearAll(); err != nil {
			return stats, err
		}
	}
	log.Info("removed tracked mirrors", logging.Count(stats.Deleted))
	return stats, nil
}

// scrubManaged removes every event in c carrying the ownership tag.
func (e *Engine) scrubManaged(ctx context.Context, log *slog.Logger, c calendar.Client) (Stats, error) {
	var stats Stats
	texts, err := c.FetchAll(ctx)
	if err != nil {
		return stats, &ConnectivityError{Calendar: c.ID(), Err: err}
	}
	bar := progress.Simple(int64(len(texts)), "Scanning "+c.ID())
	defer bar.Finish()
	for _, text := range texts {
		bar.Add(1)
		ev, err := ics.Parse(text)
		if err != nil {
			continue
		}
		if !ics.IsManaged(ev) {
			continue
		}
		uid := ev.UID()
		if uid == "" {
			continue
		}
		if err := e.removeMirror(ctx, c, uid); err != nil {
			log.Error("remove managed event failed",
				logging.UID(uid), logging.Calendar(c.ID()), logging.Err(err))
			stats.Errors++
			continue
		}
		stats.Deleted++
	}
	return stats, nil
}
