package replayindex

// SessionQuery is one session's open replay-index mapping (§4.1
// "Caching": "per-session SessionQuery objects (one mapped file per
// session)").
type SessionQuery struct {
	SessionId int64
	StreamId  int32
	*Reader
}

// OpenFunc opens the replay index file for one (sessionId, streamId) pair,
// matching the path pattern `{logFileDir}/replay-index-{sessionId}-{streamId}`
// (§6). Supplied by the caller so Cache stays decoupled from the on-disk
// layout.
type OpenFunc func(sessionId int64, streamId int32) (*Reader, error)

type cacheKey struct {
	SessionId int64
	StreamId  int32
}

type cacheEntry struct {
	key   cacheKey
	query *SessionQuery
	used  uint64
}

// Cache is the bounded set-associative LRU named in §4.1's "Caching"
// requirement: Sets buckets of Ways entries each, evicting the
// least-recently-used entry within a bucket on overflow so one hot session
// can never starve the rest of the cache out of its own bucket. An evicted
// SessionQuery has its mapping closed (§4.1: "evicted queries close their
// mapping").
type Cache struct {
	sets    int
	ways    int
	buckets [][]cacheEntry
	open    OpenFunc
	clock   uint64
}

func NewCache(sets, ways int, open OpenFunc) *Cache {
	return &Cache{sets: sets, ways: ways, buckets: make([][]cacheEntry, sets), open: open}
}

func (c *Cache) bucketFor(key cacheKey) int {
	h := uint64(key.SessionId)*31 + uint64(uint32(key.StreamId))
	return int(h % uint64(c.sets))
}

// Get returns the cached SessionQuery for (sessionId, streamId), opening
// and inserting a new one on a miss. The returned query is only valid until
// the next Get call that evicts it.
func (c *Cache) Get(sessionId int64, streamId int32) (*SessionQuery, error) {
	key := cacheKey{SessionId: sessionId, StreamId: streamId}
	b := c.bucketFor(key)
	bucket := c.buckets[b]
	for i := range bucket {
		if bucket[i].key == key {
			c.clock++
			bucket[i].used = c.clock
			return bucket[i].query, nil
		}
	}

	reader, err := c.open(sessionId, streamId)
	if err != nil {
		return nil, err
	}
	query := &SessionQuery{SessionId: sessionId, StreamId: streamId, Reader: reader}
	c.clock++
	entry := cacheEntry{key: key, query: query, used: c.clock}

	if len(bucket) < c.ways {
		c.buckets[b] = append(bucket, entry)
		return query, nil
	}

	lruIdx := 0
	for i := 1; i < len(bucket); i++ {
		if bucket[i].used < bucket[lruIdx].used {
			lruIdx = i
		}
	}
	bucket[lruIdx].query.Close()
	bucket[lruIdx] = entry
	return query, nil
}

// Len returns the total number of cached SessionQuery entries across all
// sets.
func (c *Cache) Len() int {
	n := 0
	for _, b := range c.buckets {
		n += len(b)
	}
	return n
}

// Close closes every cached mapping, used when the library shuts down.
func (c *Cache) Close() error {
	var firstErr error
	for _, bucket := range c.buckets {
		for _, e := range bucket {
			if err := e.query.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
