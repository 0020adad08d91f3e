package sync

import (
	"context"
	"log/slog"

	"calmirror/internal/ics"
	"calmirror/internal/logging"
	"calmirror/internal/state"
)

// Bidirectional runs the three-phase two-way pass. Phase 1 reconciles every
// tracked pair toward its authoritative side; phase 2 mirrors unseen source
// events into the target; phase 3 mirrors unseen target events into the
// source as "Busy" blocks. Authority is fixed when a record is first
// created and never re-derived, so alternating edits across runs cannot
// make a pair oscillate.
func (e *Engine) Bidirectional(ctx context.Context) (Stats, error) {
	var stats Stats
	log := e.log.With(logging.Direction("bidirectional"))

	targetOrphans, err := e.buildOrphanIndex(ctx, e.target)
	if err != nil {
		return stats, err
	}
	sourceOrphans, err := e.buildOrphanIndex(ctx, e.source)
	if err != nil {
		return stats, err
	}

	srcResolved, srcRaw, err := e.fetchResolved(ctx, e.source)
	if err != nil {
		return stats, err
	}
	tgtResolved, tgtRaw, err := e.fetchResolved(ctx, e.target)
	if err != nil {
		return stats, err
	}

	records, err := e.store.All()
	if err != nil {
		return stats, err
	}

	forward := e.forwardDirection()
	reverse := e.reverseDirection()

	sourceSeen := make(map[string]bool, len(records))
	targetSeen := make(map[string]bool, len(records))

	// Phase 1: existing pairs.
	for _, rec := range records {
		sourceSeen[rec.SourceUID] = true
		targetSeen[rec.TargetUID] = true

		var (
			d         direction
			authKey   string
			mirrorRaw string
			hasMirror bool
		)
		if rec.Origin == state.OriginTarget {
			d = reverse
			authKey = rec.TargetUID
			mirrorRaw, hasMirror = srcRaw[rec.SourceUID]
		} else {
			d = forward
			authKey = rec.SourceUID
			mirrorRaw, hasMirror = tgtRaw[rec.TargetUID]
		}
		auth := authEvent(d, authKey, srcResolved, tgtResolved)

		orphans := targetOrphans
		if rec.Origin == state.OriginTarget {
			orphans = sourceOrphans
		}
		stats.merge(e.reconcilePair(ctx, log, d, rec, authKey, auth, mirrorRaw, hasMirror, orphans))
	}

	// Phase 2: new source events.
	for _, re := range srcResolved.InOrder() {
		if sourceSeen[re.Key] {
			continue
		}
		stats.merge(e.createAndRecord(ctx, log, forward, re, targetOrphans))
	}

	// Phase 3: new target events.
	for _, re := range tgtResolved.InOrder() {
		if targetSeen[re.Key] {
			continue
		}
		stats.merge(e.createAndRecord(ctx, log, reverse, re, sourceOrphans))
	}

	log.Info("bidirectional sync finished", logging.Operation(stats.Summary()))
	return stats, nil
}

// authEvent looks up the pair's authoritative event in the direction's
// eligible set. An event that turned ineligible (cancelled, transparent,
// empty series) counts as absent, which retires its mirror.
func authEvent(d direction, key string, src, tgt *ics.Resolved) *ics.ResolvedEvent {
	if d.name == "reverse" {
		return tgt.Events[key]
	}
	return src.Events[key]
}

// reconcilePair resolves one tracked pair by presence on both sides.
func (e *Engine) reconcilePair(
	ctx context.Context,
	log *slog.Logger,
	d direction,
	rec state.Record,
	authKey string,
	auth *ics.ResolvedEvent,
	mirrorRaw string,
	hasMirror bool,
	orphans map[string]string,
) Stats {
	var stats Stats

	switch {
	case auth != nil && hasMirror:
		authHash := ics.ComputeHash(auth.Text)
		mirrorHash := ics.ComputeHash(mirrorRaw)
		if authHash == d.authHash(rec) && mirrorHash == d.mirrorHash(rec) {
			return stats
		}
		// Either side changed; a manual edit of the mirror included.
		// The mirror is always regenerated from the authoritative
		// side, never the other way around.
		newUID, newHash, _, err := e.updateMirror(ctx, d.mirror, auth, d.mirrorUID(rec), d.mode)
		if err != nil {
			log.Error("reconcile update failed", logging.UID(authKey), logging.Err(err))
			stats.Errors++
			return stats
		}
		if !e.opts.DryRun {
			if err := d.upsert(authKey, newUID, authHash, newHash, &rec); err != nil {
				log.Error("record update failed", logging.UID(authKey), logging.Err(err))
				stats.Errors++
				return stats
			}
		}
		log.Debug("reconciled pair toward origin", logging.UID(authKey))
		stats.Modified++

	case auth == nil && hasMirror:
		if err := e.removeMirror(ctx, d.mirror, d.mirrorUID(rec)); err != nil {
			log.Error("remove mirror failed", logging.UID(authKey), logging.Err(err))
			stats.Errors++
			return stats
		}
		if !e.opts.DryRun {
			if err := d.deleteRecord(rec); err != nil {
				log.Error("drop record failed", logging.UID(authKey), logging.Err(err))
				stats.Errors++
				return stats
			}
		}
		log.Info("deleted mirror for removed event", logging.UID(authKey))
		stats.Deleted++

	case auth != nil && !hasMirror:
		// Mirror vanished externally: self-healing recreate.
		authHash := ics.ComputeHash(auth.Text)
		newUID, newHash, err := e.createMirror(ctx, d.mirror, auth, d.mode, orphans)
		if err != nil {
			log.Error("recreate mirror failed", logging.UID(authKey), logging.Err(err))
			stats.Errors++
			return stats
		}
		if !e.opts.DryRun {
			if err := d.upsert(authKey, newUID, authHash, newHash, &rec); err != nil {
				log.Error("record mirror failed", logging.UID(authKey), logging.Err(err))
				stats.Errors++
				return stats
			}
		}
		log.Info("recreated missing mirror", logging.UID(authKey), logging.Calendar(d.mirror.ID()))
		stats.Added++

	default:
		// Both sides gone; only the record remains.
		if !e.opts.DryRun {
			if err := d.deleteRecord(rec); err != nil {
				log.Error("drop record failed", logging.UID(authKey), logging.Err(err))
				stats.Errors++
				return stats
			}
		}
		log.Debug("dropped record for vanished pair", logging.UID(authKey))
	}
	return stats
}

// createAndRecord mirrors one new event and tracks it.
func (e *Engine) createAndRecord(
	ctx context.Context,
	log *slog.Logger,
	d direction,
	re *ics.ResolvedEvent,
	orphans map[string]string,
) Stats {
	var stats Stats
	authHash := ics.ComputeHash(re.Text)

	mirrorUID, mirrorHash, err := e.createMirror(ctx, d.mirror, re, d.mode, orphans)
	if err != nil {
		log.Error("create mirror failed", logging.UID(re.Key), logging.Err(err))
		stats.Errors++
		return stats
	}
	if !e.opts.DryRun {
		if err := d.upsert(re.Key, mirrorUID, authHash, mirrorHash, nil); err != nil {
			log.Error("record mirror failed", logging.UID(re.Key), logging.Err(err))
			stats.Errors++
			return stats
		}
	}
	log.Info("created mirror", logging.UID(re.Key), logging.Calendar(d.mirror.ID()))
	stats.Added++
	return stats
}
