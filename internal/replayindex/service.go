package replayindex

import "fmt"

// IndexPath builds the on-disk path for one session's replay index file,
// matching §6's pattern: `{logFileDir}/replay-index-{sessionId}-{streamId}`.
func IndexPath(logFileDir string, sessionId int64, streamId int32) string {
	return fmt.Sprintf("%s/replay-index-%d-%d", logFileDir, sessionId, streamId)
}

// NewFileCache builds a Cache whose OpenFunc memory-maps the §6 path
// pattern under logFileDir with the given ring capacity (in records).
func NewFileCache(logFileDir string, capacity, sets, ways int) *Cache {
	return NewCache(sets, ways, func(sessionId int64, streamId int32) (*Reader, error) {
		return Open(IndexPath(logFileDir, sessionId, streamId), capacity)
	})
}
