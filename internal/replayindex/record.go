// Package replayindex implements the Replay Index Reader (C1, §4.1): a
// lock-free single-writer/multi-reader query engine over a memory-mapped,
// ring-buffer-shaped index file the engine writes and this library only
// ever reads. A Query maps a (sessionId, seqIdx, seqNum) window onto an
// ordered, deduplicated list of RecordingRanges in the durable archive.
//
// The record layout follows the teacher's protocol.FrameHeader convention
// of fixed-offset binary fields; the SBE-style file header and the
// beginChange/endChange change-counter pair are this component's own
// addition, built from §3/§4.1's description since the teacher has no
// mmap/ring-buffer code of its own.
package replayindex

import "encoding/binary"

// RecordLength is the fixed size in bytes of one ReplayIndexRecord slot
// (§3): beginPosition(8) + sequenceNumber(4) + sequenceIndex(4) +
// recordingId(8) + length(4) + padding(4).
const RecordLength = 32

// FrameAlignment is the archive's frame header size prefixed to every
// durable-log record; RecordingRange start/length are adjusted by this much
// so a replay stream begins at the frame header rather than the payload
// (§4.1 "Record application").
const FrameAlignment = 32

// MostRecentMessage is the endSeqNum sentinel meaning "unbounded upper"
// (§4.1).
const MostRecentMessage int32 = -1

// Record is one ReplayIndexRecord (§3): it maps a (sequenceIndex,
// sequenceNumber) key in one FIX session to a byte range of one recording
// in the durable archive.
type Record struct {
	BeginPosition  uint64
	SequenceNumber int32
	SequenceIndex  int32
	RecordingId    uint64
	Length         int32
}

// field offsets within one RecordLength-byte ring slot.
const (
	offBeginPosition  = 0
	offSequenceNumber = 8
	offSequenceIndex  = 12
	offRecordingId    = 16
	offLength         = 24
	// [28:32) padding
)

func decodeRecordFields(buf []byte) Record {
	return Record{
		BeginPosition:  binary.LittleEndian.Uint64(buf[offBeginPosition:]),
		SequenceNumber: int32(binary.LittleEndian.Uint32(buf[offSequenceNumber:])),
		SequenceIndex:  int32(binary.LittleEndian.Uint32(buf[offSequenceIndex:])),
		RecordingId:    binary.LittleEndian.Uint64(buf[offRecordingId:]),
		Length:         int32(binary.LittleEndian.Uint32(buf[offLength:])),
	}
}

func encodeRecordFields(buf []byte, r Record) {
	binary.LittleEndian.PutUint64(buf[offBeginPosition:], r.BeginPosition)
	binary.LittleEndian.PutUint32(buf[offSequenceNumber:], uint32(r.SequenceNumber))
	binary.LittleEndian.PutUint32(buf[offSequenceIndex:], uint32(r.SequenceIndex))
	binary.LittleEndian.PutUint64(buf[offRecordingId:], r.RecordingId)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(r.Length))
}

// EncodeRecord writes one RecordLength-byte slot. Used by tests (and would
// be used by an engine-side writer) to synthesize ring contents directly.
func EncodeRecord(buf []byte, r Record) {
	encodeRecordFields(buf, r)
}

// compareKey lexicographically compares (seqIdxA, seqNumA) to
// (seqIdxB, seqNumB) as §4.1 requires throughout the read protocol.
func compareKey(seqIdxA, seqNumA, seqIdxB, seqNumB int32) int {
	if seqIdxA != seqIdxB {
		if seqIdxA < seqIdxB {
			return -1
		}
		return 1
	}
	if seqNumA != seqNumB {
		if seqNumA < seqNumB {
			return -1
		}
		return 1
	}
	return 0
}
