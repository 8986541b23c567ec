package models

import "time"

// SinkStats summarises what a batching sink has done so far.
type SinkStats struct {
	Queued        int64
	Dropped       int64
	Flushed       int64
	FailedBatches int64
	LastFlush     time.Time
}
