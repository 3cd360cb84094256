package monitor

import (
	"sync"
	"time"
)

// Stats holds the Block Monitor's counters. The monitor is the sole writer;
// /health and /status/work read it concurrently, so access is guarded by a
// plain mutex rather than atomics — the teacher does the same for its
// rarely-contended sync-progress counters.
type Stats struct {
	mu sync.RWMutex

	totalBlocksDiscovered int
	consecutiveErrorCount int
	startTime             time.Time
	lastBlockTimestamp    *time.Time
	lastNotificationAt    *time.Time
}

// NewStats returns a Stats with startTime set to now.
func NewStats(now time.Time) *Stats {
	return &Stats{startTime: now}
}

func (s *Stats) recordSuccess(blockTimestamp *time.Time, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrorCount = 0
	if blockTimestamp != nil {
		s.lastBlockTimestamp = blockTimestamp
	}
	s.lastNotificationAt = &now
	s.totalBlocksDiscovered++
}

func (s *Stats) recordError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrorCount++
	return s.consecutiveErrorCount
}

func (s *Stats) resetErrorCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrorCount = 0
}

// Snapshot is a read-only copy of the counters, safe to serialize.
type Snapshot struct {
	TotalBlocksDiscovered int        `json:"totalBlocksDiscovered"`
	ConsecutiveErrorCount int        `json:"consecutiveErrorCount"`
	StartTime             time.Time  `json:"startTime"`
	LastBlockTimestamp    *time.Time `json:"lastBlockTimestamp,omitempty"`
	LastNotificationAt    *time.Time `json:"lastNotificationAt,omitempty"`
	UptimeMs              int64      `json:"uptimeMs"`
}

func (s *Stats) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		TotalBlocksDiscovered: s.totalBlocksDiscovered,
		ConsecutiveErrorCount: s.consecutiveErrorCount,
		StartTime:             s.startTime,
		LastBlockTimestamp:    s.lastBlockTimestamp,
		LastNotificationAt:    s.lastNotificationAt,
		UptimeMs:              now.Sub(s.startTime).Milliseconds(),
	}
}
