package sync

import (
	"context"
	"sort"

	"calmirror/internal/calendar"
	"calmirror/internal/ics"
	"calmirror/internal/logging"
	"calmirror/internal/progress"
	"calmirror/internal/state"
)

// direction binds the one-way algorithm to its role assignment: which
// calendar is authoritative, where mirrors live, and how records map onto
// the state row's source/target columns.
type direction struct {
	name   string
	auth   calendar.Client
	mirror calendar.Client
	mode   ics.Mode

	// records returns the direction's tracked records keyed by the
	// authoritative event's state key.
	records func() (map[string]state.Record, error)

	// authHash, mirrorHash, and mirrorUID read the direction's columns
	// of a record.
	authHash   func(state.Record) string
	mirrorHash func(state.Record) string
	mirrorUID  func(state.Record) string

	// upsert writes a record for key with the given mirror UID and
	// hashes. replaces, when non-nil, names a row keyed differently
	// that this write supersedes.
	upsert func(key, mirrorUID, authHash, mirrorHash string, replaces *state.Record) error

	// deleteRecord drops a record after its mirror is removed.
	deleteRecord func(state.Record) error
}

// forwardDirection mirrors source events into the target calendar with full
// titles. Records carry origin=source: the authoritative key is the
// source_uid column.
func (e *Engine) forwardDirection() direction {
	return direction{
		name:       "forward",
		auth:       e.source,
		mirror:     e.target,
		mode:       ics.ModeMirror,
		records:    e.store.BySourceOrigin,
		authHash:   func(r state.Record) string { return r.SourceHash },
		mirrorHash: func(r state.Record) string { return r.TargetHash },
		mirrorUID:  func(r state.Record) string { return r.TargetUID },
		upsert: func(key, mirrorUID, authHash, mirrorHash string, _ *state.Record) error {
			return e.store.Upsert(key, mirrorUID, authHash, mirrorHash, state.OriginSource)
		},
		deleteRecord: func(r state.Record) error {
			return e.store.DeleteBySourceUID(r.SourceUID)
		},
	}
}

// reverseDirection mirrors target events into the source calendar as "Busy"
// blocks. Records carry origin=target: the authoritative key is the
// target_uid column and the mirror's UID lands in source_uid, so replacing
// a recreated mirror means replacing the row.
func (e *Engine) reverseDirection() direction {
	return direction{
		name:       "reverse",
		auth:       e.target,
		mirror:     e.source,
		mode:       ics.ModeBusy,
		records:    e.store.ByTargetOrigin,
		authHash:   func(r state.Record) string { return r.TargetHash },
		mirrorHash: func(r state.Record) string { return r.SourceHash },
		mirrorUID:  func(r state.Record) string { return r.SourceUID },
		upsert: func(key, mirrorUID, authHash, mirrorHash string, replaces *state.Record) error {
			if replaces != nil && replaces.SourceUID != mirrorUID {
				if err := e.store.DeleteByPair(replaces.SourceUID, replaces.TargetUID); err != nil {
					return err
				}
			}
			return e.store.Upsert(mirrorUID, key, mirrorHash, authHash, state.OriginTarget)
		},
		deleteRecord: func(r state.Record) error {
			return e.store.DeleteByPair(r.SourceUID, r.TargetUID)
		},
	}
}

// Forward runs the one-way source-to-target pass.
func (e *Engine) Forward(ctx context.Context) (Stats, error) {
	return e.oneWay(ctx, e.forwardDirection())
}

// Reverse runs the one-way target-to-source pass.
func (e *Engine) Reverse(ctx context.Context) (Stats, error) {
	return e.oneWay(ctx, e.reverseDirection())
}

func (e *Engine) oneWay(ctx context.Context, d direction) (Stats, error) {
	var stats Stats
	log := e.log.With(logging.Direction(d.name))

	orphans, err := e.buildOrphanIndex(ctx, d.mirror)
	if err != nil {
		return stats, err
	}
	resolved, _, err := e.fetchResolved(ctx, d.auth)
	if err != nil {
		return stats, err
	}
	records, err := d.records()
	if err != nil {
		return stats, err
	}

	bar := progress.Simple(int64(len(resolved.Events)), "Syncing events")
	seen := make(map[string]bool, len(resolved.Events))
	for _, re := range resolved.InOrder() {
		bar.Add(1)
		seen[re.Key] = true
		authHash := ics.ComputeHash(re.Text)

		rec, tracked := records[re.Key]
		if !tracked {
			mirrorUID, mirrorHash, err := e.createMirror(ctx, d.mirror, re, d.mode, orphans)
			if err != nil {
				log.Error("create mirror failed", logging.UID(re.Key), logging.Err(err))
				stats.Errors++
				continue
			}
			if !e.opts.DryRun {
				if err := d.upsert(re.Key, mirrorUID, authHash, mirrorHash, nil); err != nil {
					log.Error("record mirror failed", logging.UID(re.Key), logging.Err(err))
					stats.Errors++
					continue
				}
			}
			log.Info("created mirror", logging.UID(re.Key), logging.Calendar(d.mirror.ID()))
			stats.Added++
			continue
		}

		if authHash == d.authHash(rec) {
			continue
		}
		mirrorUID, mirrorHash, recreated, err := e.updateMirror(ctx, d.mirror, re, d.mirrorUID(rec), d.mode)
		if err != nil {
			log.Error("update mirror failed", logging.UID(re.Key), logging.Err(err))
			stats.Errors++
			continue
		}
		if !e.opts.DryRun {
			if err := d.upsert(re.Key, mirrorUID, authHash, mirrorHash, &rec); err != nil {
				log.Error("record mirror failed", logging.UID(re.Key), logging.Err(err))
				stats.Errors++
				continue
			}
		}
		if recreated {
			log.Info("recreated mirror", logging.UID(re.Key), logging.Calendar(d.mirror.ID()))
		} else {
			log.Debug("updated mirror", logging.UID(re.Key))
		}
		stats.Modified++
	}

	bar.Finish()

	// Tracked events that vanished from the authoritative side take their
	// mirrors with them.
	keys := make([]string, 0, len(records))
	for key := range records {
		if !seen[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		stale := progress.Simple(int64(len(keys)), "Removing stale mirrors")
		for _, key := range keys {
			stale.Add(1)
			rec := records[key]
			if err := e.removeMirror(ctx, d.mirror, d.mirrorUID(rec)); err != nil {
				log.Error("remove mirror failed", logging.UID(key), logging.Err(err))
				stats.Errors++
				continue
			}
			if !e.opts.DryRun {
				if err := d.deleteRecord(rec); err != nil {
					log.Error("drop record failed", logging.UID(key), logging.Err(err))
					stats.Errors++
					continue
				}
			}
			log.Info("deleted mirror", logging.UID(key), logging.Calendar(d.mirror.ID()))
			stats.Deleted++
		}
		stale.Finish()
	}

	log.Info("one-way sync finished", logging.Operation(stats.Summary()))
	return stats, nil
}
