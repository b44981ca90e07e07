package metrics

import (
	"testing"
	"time"
)

func TestTimeBucketStore_RingBuffer(t *testing.T) {
	store := NewTimeBucketStore(3)

	for i := 1; i <= 5; i++ {
		store.RecordRequest(true)
		store.CreateBucket(int64(i), 0, LatencyStats{}, i, PhaseSteady)
	}

	buckets := store.GetBuckets()
	if len(buckets) != 3 {
		t.Fatalf("len(buckets) = %d, want 3", len(buckets))
	}
	for i, b := range buckets {
		if want := int64(i + 3); b.TotalRequests != want {
			t.Errorf("bucket %d TotalRequests = %d, want %d", i, b.TotalRequests, want)
		}
	}
	if latest := store.GetLatestBucket(); latest.ActiveVUs != 5 {
		t.Errorf("latest ActiveVUs = %d, want 5", latest.ActiveVUs)
	}
}

func TestTimeBucketStore_IntervalErrorRate(t *testing.T) {
	store := NewTimeBucketStore(10)

	store.RecordRequest(true)
	store.RecordRequest(false)
	store.RecordRequest(false)
	store.RecordRequest(true)

	b := store.CreateBucket(4, 2, LatencyStats{P95: time.Millisecond}, 1, PhaseRampUp)
	if b.IntervalRequests != 4 {
		t.Errorf("IntervalRequests = %d, want 4", b.IntervalRequests)
	}
	if b.IntervalErrorRate != 0.5 {
		t.Errorf("IntervalErrorRate = %v, want 0.5", b.IntervalErrorRate)
	}

	// Accumulators reset after each bucket.
	b = store.CreateBucket(4, 2, LatencyStats{}, 1, PhaseRampUp)
	if b.IntervalRequests != 0 || b.IntervalErrorRate != 0 {
		t.Errorf("second bucket = %+v, want empty interval", b)
	}
}

func TestTimeBucketStore_Reset(t *testing.T) {
	store := NewTimeBucketStore(0)
	store.CreateBucket(1, 0, LatencyStats{}, 0, PhaseInit)
	store.Reset()

	if store.GetBuckets() != nil {
		t.Error("GetBuckets() after Reset should be nil")
	}
	if store.GetLatestBucket() != nil {
		t.Error("GetLatestBucket() after Reset should be nil")
	}
}
