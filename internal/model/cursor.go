package model

import "time"

// SyncCursor tracks ETL progress for one synchronized source table. The
// cursor advances only after a fully committed, deduplicated batch, making
// synchronization resumable and idempotent.
type SyncCursor struct {
	// SourceTable names the archive table this cursor tracks.
	SourceTable string

	// LastSyncedMs is the timestamp of the newest committed row.
	LastSyncedMs int64

	// LastContentHash is the combined content hash of the last committed
	// batch, used to detect replayed-but-identical batches.
	LastContentHash uint64
}

// LastSyncedTime returns the cursor position as a time.Time.
func (c SyncCursor) LastSyncedTime() time.Time {
	return time.UnixMilli(c.LastSyncedMs)
}

// Zero reports whether the cursor has never advanced.
func (c SyncCursor) Zero() bool {
	return c.LastSyncedMs == 0
}
