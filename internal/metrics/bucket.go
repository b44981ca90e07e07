package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps time-bucketed metrics in a ring buffer.
//
// Old buckets are discarded once the buffer is full, so memory stays bounded
// for long soak runs.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds a request to the current interval.
func (s *TimeBucketStore) RecordRequest(success bool) {
	s.currentRequests.Add(1)
	if !success {
		s.currentFailures.Add(1)
	}
}

// CreateBucket closes the current interval and appends it to the buffer.
func (s *TimeBucketStore) CreateBucket(totalRequests, totalFailures int64, latency LatencyStats, activeVUs int, phase Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	intervalRequests := s.currentRequests.Swap(0)
	intervalFailures := s.currentFailures.Swap(0)

	seconds := now.Sub(s.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1.0
	}

	errorRate := 0.0
	if intervalRequests > 0 {
		errorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     totalRequests,
		TotalFailures:     totalFailures,
		IntervalRequests:  intervalRequests,
		IntervalRPS:       float64(intervalRequests) / seconds,
		IntervalErrorRate: errorRate,
		LatencyP50:        latency.P50,
		LatencyP95:        latency.P95,
		LatencyP99:        latency.P99,
		ActiveVUs:         activeVUs,
		Phase:             phase,
	}

	s.buckets[s.head] = bucket
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastBucketTime = now

	return bucket
}

// GetBuckets returns all retained buckets in chronological order.
func (s *TimeBucketStore) GetBuckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		result[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (s *TimeBucketStore) GetLatestBucket() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Reset drops all buckets.
func (s *TimeBucketStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make([]*TimeBucket, s.maxBuckets)
	s.head = 0
	s.count = 0
	s.lastBucketTime = time.Now()
	s.currentRequests.Store(0)
	s.currentFailures.Store(0)
}
