package sync

import (
	"context"
	"strings"

	"calmirror/internal/calendar"
	"calmirror/internal/ics"
	"calmirror/internal/logging"
)

// buildOrphanIndex scans a calendar for managed events that no record
// tracks. A previous run that crashed between creating a mirror and
// committing its record leaves exactly this shape behind. The index maps
// each orphan's source-UID fingerprint to the orphan's own UID so creation
// paths can adopt it instead of duplicating it.
//
// Managed events without a fingerprint tag predate fingerprinting and
// cannot be matched; they are skipped.
func (e *Engine) buildOrphanIndex(ctx context.Context, c calendar.Client) (map[string]string, error) {
	records, err := e.store.All()
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]bool, len(records)*2)
	for _, r := range records {
		tracked[r.SourceUID] = true
		tracked[r.TargetUID] = true
	}

	texts, err := c.FetchAll(ctx)
	if err != nil {
		return nil, &ConnectivityError{Calendar: c.ID(), Err: err}
	}

	index := make(map[string]string)
	for _, text := range texts {
		ev, err := ics.Parse(text)
		if err != nil {
			continue
		}
		if !ics.IsManaged(ev) {
			continue
		}
		uid := ev.UID()
		if uid == "" || tracked[uid] {
			continue
		}
		for _, cat := range ev.Categories() {
			if fp, ok := strings.CutPrefix(cat, ics.FingerprintTagPrefix); ok {
				index[fp] = uid
				break
			}
		}
	}

	if len(index) > 0 {
		e.log.Info("found orphaned managed events",
			logging.Calendar(c.ID()), logging.Count(len(index)))
	}
	return index, nil
}
