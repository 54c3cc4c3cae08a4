package chain

import "errors"

// errTorn marks a frame that simply isn't fully present yet — fewer bytes
// remain in the file than a complete frame needs. Every real frame is a
// fixed frameSize, so this can only happen at the tail of the file, the
// unavoidable signature of a block half-written at crash time. Open
// truncates the file at the start of a torn frame and otherwise ignores
// it.
var errTorn = errors.New("torn frame")

// errCorrupt marks a frame that has a complete frameSize's worth of bytes
// on disk but fails its length or checksum check — a full frame whose
// content disagrees with its own checksum, which a crash mid-write cannot
// produce (the frame is the right size) but a deliberate tamper of
// already-committed bytes can. Unlike errTorn, Open does not discard this
// frame or anything after it; it stops loading and leaves the bytes on
// disk exactly as found, so Verify can report the tamper instead of the
// corruption being silently dropped.
var errCorrupt = errors.New("corrupt frame")
