package redo

import "errors"

var errFlipKindMismatch = errors.New("redo: flip was begun against a different log kind")

// FlippedLog is the side file compaction writes go to while the primary
// log keeps serving reads and accepting new writes. Exactly one of its
// two backing fields is populated, matching whichever Log began it.
type FlippedLog struct {
	file *FileLog
	mem  *MemLog
}

// AsLog exposes the flip target as a plain Log so compactors can copy
// kept entries into it without caring which backend is underneath.
func (f *FlippedLog) AsLog() Log {
	if f.file != nil {
		return f.file
	}
	return f.mem
}
