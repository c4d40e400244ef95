package storage

import (
	"encoding/binary"

	boom "github.com/tylertreat/BoomFilters"
)

// frequencySketch approximates per-page touch counts with a count-min
// sketch, used by BufferPool.evictPageLocked to break ties among clean eviction
// candidates. It is an approximate LFU, not an exact one — cheap to
// maintain on every GetPage without an exact counter map.
type frequencySketch struct {
	cms *boom.CountMinSketch
}

func newFrequencySketch() *frequencySketch {
	// epsilon/delta chosen to keep the sketch small; this is a tie-break
	// heuristic, not an accounting system, so approximate counts are fine.
	return &frequencySketch{cms: boom.NewCountMinSketch(0.001, 0.99)}
}

func pageIDBytes(pid PageID) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], uint64(pid.TableID()))
	binary.LittleEndian.PutUint64(b[8:16], uint64(pid.PageNo()))
	return b
}

func (s *frequencySketch) touch(pid PageID) {
	s.cms.Add(pageIDBytes(pid))
}

func (s *frequencySketch) count(pid PageID) uint64 {
	return s.cms.Count(pageIDBytes(pid))
}
