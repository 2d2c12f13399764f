package replayindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestReader builds an in-memory ring of capacityRecords slots and
// writes recs at consecutive positions starting at position 0, leaving the
// change-counter pair at the writer's resulting cursor (begin==end, stable,
// matching the "no write in flight" steady state every query in this file
// observes).
func newTestReader(t *testing.T, capacityRecords int, recs []Record) *Reader {
	t.Helper()
	capacity := capacityRecords * RecordLength
	buf := make([]byte, HeaderLength+capacity)
	cursor := int64(0)
	for _, rec := range recs {
		slot := int(cursor % int64(capacity))
		EncodeRecord(buf[HeaderLength+slot:HeaderLength+slot+RecordLength], rec)
		cursor += RecordLength
	}
	writeHeaderForTest(buf, cursor, cursor)
	return &Reader{mapped: newBufferBacked(buf), capacity: int64(capacity)}
}

func seqRecords(n int, recordingId uint64, seqIdx int32) []Record {
	recs := make([]Record, n)
	for i := 0; i < n; i++ {
		seqNum := int32(i + 1)
		recs[i] = Record{
			BeginPosition:  uint64((i + 1) * 1000),
			SequenceNumber: seqNum,
			SequenceIndex:  seqIdx,
			RecordingId:    recordingId,
			Length:         100,
		}
	}
	return recs
}

func TestQuery_SkipToStart(t *testing.T) {
	// S4: seqs 1..100 on seqIdx 0, recordingId R1, no wrap (capacity large
	// enough that the writer cursor stays under one ring's worth of bytes).
	r := newTestReader(t, 128, seqRecords(100, 1, 0))

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 50, EndSeqIdx: 0, EndSeqNum: 60})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.EqualValues(t, 1, ranges[0].RecordingId)
	assert.EqualValues(t, 11, ranges[0].Count) // seqs 50..60 inclusive
	assert.Equal(t, int64(50*1000)-FrameAlignment, ranges[0].StartPosition)
}

func TestQuery_WrapRestart(t *testing.T) {
	// S3: capacity 16 records, writer writes seqs 1..20 (wraps once); query
	// (1,20) must observe exactly the 16 records still resident (seq 5..20)
	// folded into one RecordingRange.
	r := newTestReader(t, 16, seqRecords(20, 1, 0))

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 1, EndSeqIdx: 0, EndSeqNum: 20})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.EqualValues(t, 1, ranges[0].RecordingId)
	assert.EqualValues(t, 16, ranges[0].Count)
}

func TestQuery_MostRecentMessageUnbounded(t *testing.T) {
	r := newTestReader(t, 128, seqRecords(10, 1, 0))

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 5, EndSeqIdx: 0, EndSeqNum: MostRecentMessage})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.EqualValues(t, 6, ranges[0].Count) // seqs 5..10
}

func TestQuery_ExactSingleKey(t *testing.T) {
	r := newTestReader(t, 128, seqRecords(10, 1, 0))

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 5, EndSeqIdx: 0, EndSeqNum: 5})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.EqualValues(t, 1, ranges[0].Count)
}

func TestQuery_SplitsByRecordingId(t *testing.T) {
	recs := append(seqRecords(5, 1, 0), seqRecords(5, 2, 0)...)
	for i := range recs[5:] {
		recs[5+i].SequenceNumber = int32(6 + i)
	}
	r := newTestReader(t, 128, recs)

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 1, EndSeqIdx: 0, EndSeqNum: 10})
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.EqualValues(t, 1, ranges[0].RecordingId)
	assert.EqualValues(t, 5, ranges[0].Count)
	assert.EqualValues(t, 2, ranges[1].RecordingId)
	assert.EqualValues(t, 5, ranges[1].Count)
}

func TestQuery_UnwrittenSlotTerminatesEarly(t *testing.T) {
	r := newTestReader(t, 128, seqRecords(3, 1, 0))

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 1, EndSeqIdx: 0, EndSeqNum: MostRecentMessage})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.EqualValues(t, 3, ranges[0].Count)
}

func TestQuery_FragmentedMessageSameSeqNumNotDoubleCounted(t *testing.T) {
	recs := []Record{
		{BeginPosition: 1000, SequenceNumber: 1, SequenceIndex: 0, RecordingId: 1, Length: 100},
		{BeginPosition: 1200, SequenceNumber: 1, SequenceIndex: 0, RecordingId: 1, Length: 100},
		{BeginPosition: 1400, SequenceNumber: 2, SequenceIndex: 0, RecordingId: 1, Length: 100},
	}
	r := newTestReader(t, 128, recs)

	ranges, err := r.Query(Query{SessionId: 1, BeginSeqIdx: 0, BeginSeqNum: 1, EndSeqIdx: 0, EndSeqNum: 2})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.EqualValues(t, 2, ranges[0].Count) // two distinct sequence numbers, three records
	assert.Equal(t, int64(300)+3*FrameAlignment, ranges[0].TotalLength)
}
