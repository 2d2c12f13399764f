package replayindex

import (
	"fmt"

	"github.com/ocx/fixlib/internal/errs"
)

// Reader answers replay-index queries (§4.1) against a memory-mapped ring
// of RecordLength-byte slots, written exclusively by the engine, read by
// any number of library instances (SPMC). The ring's beginChange/endChange
// pair is the writer's absolute byte cursor (the position the next record
// write begins at, stable when begin==end); iteratorPosition below tracks
// the same absolute byte-position space and is only ever taken mod
// r.capacity to find a ring slot.
type Reader struct {
	mapped   *mappedFile
	capacity int64 // ring size in bytes, == recordCount * RecordLength
}

// Open memory-maps an index file holding capacity RecordLength-byte slots.
func Open(path string, capacity int) (*Reader, error) {
	m, err := openMapped(path, capacity*RecordLength)
	if err != nil {
		return nil, err
	}
	return &Reader{mapped: m, capacity: int64(capacity) * RecordLength}, nil
}

func (r *Reader) Close() error { return r.mapped.Close() }

// Query describes one replay-index lookup (§4.1): the inclusive
// [beginSeqIdx:beginSeqNum, endSeqIdx:endSeqNum] window for one session.
// EndSeqNum may be MostRecentMessage for an unbounded upper end.
type Query struct {
	SessionId   int64
	BeginSeqIdx int32
	BeginSeqNum int32
	EndSeqIdx   int32
	EndSeqNum   int32
}

// RecordingRange is a contiguous, non-overlapping span of one archive
// recording to stream back to a replay caller (§3).
type RecordingRange struct {
	RecordingId   uint64
	SessionId     int64
	StartPosition int64
	TotalLength   int64
	Count         int32
}

const maxSlotRetries = 8

// readStableSlot applies the per-slot torn-read protocol (§4.1 "Read
// protocol"): snapshot endChange, read the record fields, confirm
// beginChange still matches the endChange snapshot across the read. A
// mismatch means the writer raced this read; retry the same slot. Returns
// ok=false only when retries are exhausted; Query then re-runs its lap check
// and reads the slot again, and returns a KindIndexLapped error once
// maxSlotRetries such calls in a row have failed.
func (r *Reader) readStableSlot(bytePos int64) (Record, bool) {
	slotOff := int(bytePos % r.capacity)
	buf := r.mapped.ring[slotOff : slotOff+RecordLength]
	for i := 0; i < maxSlotRetries; i++ {
		changePre := r.mapped.endChange()
		rec := decodeRecordFields(buf) // acquire-fenced by the endChange load above
		begin := r.mapped.beginChange()
		if changePre == begin {
			return rec, true
		}
	}
	return Record{}, false
}

// Query scans the ring for records in [q.BeginSeqIdx:q.BeginSeqNum,
// q.EndSeqIdx:q.EndSeqNum] and folds them into ordered RecordingRanges
// (§4.1 "Record application"). Lap detection (the writer overtaking this
// scan) is recovered internally by restarting at the writer's current
// position; it is never surfaced to the caller (§7 "C1 lap detection is
// recovered locally and never surfaced").
func (r *Reader) Query(q Query) ([]RecordingRange, error) {
	unbounded := q.EndSeqNum == MostRecentMessage

	begin := r.mapped.beginChange()
	var iterPos int64
	if begin < r.capacity {
		iterPos = 0 // first wrap not yet reached: scanning from 0 is safe
	} else {
		iterPos = begin
	}
	stopPos := iterPos + r.capacity

	var ranges []RecordingRange
	var cur *RecordingRange
	var lastSeqNum int32
	haveLastSeqNum := false

	flush := func() {
		if cur != nil {
			ranges = append(ranges, *cur)
			cur = nil
		}
	}

	tornRetries := 0
	for iterPos < stopPos {
		// Lap detection (§4.1 step 2): the writer has overtaken this
		// reader's cursor by a full capacity; resynchronize to the
		// writer's current frontier and restart the scan window.
		changePositionPre := r.mapped.endChange()
		beginNow := r.mapped.beginChange()
		if changePositionPre > iterPos && iterPos+r.capacity <= beginNow {
			iterPos = changePositionPre
			stopPos = iterPos + r.capacity
			continue
		}

		rec, ok := r.readStableSlot(iterPos)
		if !ok {
			tornRetries++
			if tornRetries > maxSlotRetries {
				return nil, errs.New(errs.KindIndexLapped, 0,
					fmt.Sprintf("replayindex: slot at position %d unreadable after retries", iterPos))
			}
			continue
		}
		tornRetries = 0

		if rec.BeginPosition == 0 {
			break // unwritten slot: end of scan
		}
		if !unbounded && compareKey(rec.SequenceIndex, rec.SequenceNumber, q.EndSeqIdx, q.EndSeqNum) > 0 {
			break
		}

		if compareKey(rec.SequenceIndex, rec.SequenceNumber, q.BeginSeqIdx, q.BeginSeqNum) >= 0 {
			if cur != nil && cur.RecordingId == rec.RecordingId {
				cur.TotalLength += int64(rec.Length) + FrameAlignment
			} else {
				flush()
				cur = &RecordingRange{
					RecordingId:   rec.RecordingId,
					SessionId:     q.SessionId,
					StartPosition: int64(rec.BeginPosition) - FrameAlignment,
					TotalLength:   int64(rec.Length) + FrameAlignment,
				}
				haveLastSeqNum = false
			}
			if !haveLastSeqNum || rec.SequenceNumber != lastSeqNum {
				cur.Count++
				lastSeqNum = rec.SequenceNumber
				haveLastSeqNum = true
			}
			iterPos += RecordLength
			continue
		}

		// Before the window start: arithmetic skip when possible (§4.1).
		if rec.SequenceNumber < q.BeginSeqNum && rec.SequenceIndex == q.BeginSeqIdx {
			iterPos += int64(q.BeginSeqNum-rec.SequenceNumber) * RecordLength
		} else {
			iterPos += RecordLength
		}
	}
	flush()
	return ranges, nil
}
