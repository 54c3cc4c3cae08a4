package wal

import "errors"

var (
	// errCorruptFrame marks the first invalid frame hit during a scan —
	// recovery's valid prefix ends here, per spec §4.1.
	errCorruptFrame = errors.New("corrupt frame")
	// ErrWalFull is returned by Append when the active segment has
	// exceeded its configured bound and rotation is impossible (a single
	// frame larger than the whole segment budget).
	ErrWalFull = errors.New("wal: segment full")
)
