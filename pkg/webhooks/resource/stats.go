package resource

import (
	"sync"
	"time"
)

const denyWindowHours = 24

// decisionStats keeps cheap per-handler counters next to the prometheus
// metrics. Denies are bucketed per hour in a fixed ring so the trailing
// window needs no timestamp list.
type decisionStats struct {
	mu      sync.Mutex
	allowed int64
	denied  int64
	buckets [denyWindowHours]denyBucket
}

type denyBucket struct {
	// hour is the unix hour this bucket currently covers
	hour  int64
	count int64
}

func newDecisionStats() *decisionStats {
	return &decisionStats{}
}

func (s *decisionStats) record(now time.Time, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowed {
		s.allowed++
		return
	}
	s.denied++
	hour := now.Unix() / 3600
	bucket := &s.buckets[hour%denyWindowHours]
	if bucket.hour != hour {
		bucket.hour = hour
		bucket.count = 0
	}
	bucket.count++
}

func (s *decisionStats) deniedLast24h(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hour := now.Unix() / 3600
	var total int64
	for i := range s.buckets {
		if hour-s.buckets[i].hour < denyWindowHours {
			total += s.buckets[i].count
		}
	}
	return total
}
