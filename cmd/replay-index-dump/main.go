// Command replay-index-dump opens a replay index file and runs one query
// against it, printing the resulting RecordingRanges, useful for inspecting
// an index file produced by a real engine without pulling in the rest of
// the connector.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/ocx/fixlib/internal/replayindex"
)

func main() {
	path := flag.String("path", "", "path to the replay index file")
	capacity := flag.Int("capacity", 65536, "ring capacity in records")
	sessionId := flag.Int64("session", 0, "session id to tag output ranges with")
	beginSeqIdx := flag.Int("begin-seq-idx", 0, "inclusive start sequence index")
	beginSeqNum := flag.Int("begin-seq-num", 1, "inclusive start sequence number")
	endSeqIdx := flag.Int("end-seq-idx", 0, "inclusive end sequence index")
	endSeqNum := flag.Int("end-seq-num", -1, "inclusive end sequence number, -1 for most-recent")
	flag.Parse()

	if *path == "" {
		log.Fatal("replay-index-dump: -path is required")
	}

	reader, err := replayindex.Open(*path, *capacity)
	if err != nil {
		log.Fatalf("replay-index-dump: %v", err)
	}
	defer reader.Close()

	ranges, err := reader.Query(replayindex.Query{
		SessionId:   *sessionId,
		BeginSeqIdx: int32(*beginSeqIdx),
		BeginSeqNum: int32(*beginSeqNum),
		EndSeqIdx:   int32(*endSeqIdx),
		EndSeqNum:   int32(*endSeqNum),
	})
	if err != nil {
		log.Fatalf("replay-index-dump: query failed: %v", err)
	}

	for _, rg := range ranges {
		fmt.Printf("recordingId=%d sessionId=%d start=%d length=%d count=%d\n",
			rg.RecordingId, rg.SessionId, rg.StartPosition, rg.TotalLength, rg.Count)
	}
	fmt.Printf("%d ranges\n", len(ranges))
}
