package ics

import (
	"crypto/sha256"
	"encoding/hex"
)

// volatileProps change on every store round-trip without the event meaning
// anything different, so they are excluded from change detection.
var volatileProps = []string{propDtStamp, propCreated, propLastModified, propSequence}

// ComputeHash returns the canonical content hash for event text. The text is
// parsed, volatile bookkeeping properties are stripped from every VEVENT in
// the container, and the hash is taken over the reserialized form so that
// formatting differences in equivalent inputs do not register as changes.
//
// Unparseable text is hashed as-is: a stable wrong answer beats an error
// here, since the worst outcome is one redundant mirror update.
func ComputeHash(text string) string {
	canonical := text
	if ev, err := Parse(text); err == nil {
		for _, ve := range ev.VEvents() {
			removeProps(ve, volatileProps...)
		}
		canonical = ev.Serialize()
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
