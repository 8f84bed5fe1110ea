package middleware

import (
	"sync"
	"time"
)

// ReportCache keeps the most recent batch report published by the
// worker so the API can serve it without a database round trip.
type ReportCache struct {
	mu         sync.RWMutex
	latest     []byte
	receivedAt time.Time
}

func NewReportCache() *ReportCache {
	return &ReportCache{}
}

func (r *ReportCache) Store(report []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = append([]byte(nil), report...)
	r.receivedAt = time.Now().UTC()
}

// Latest returns the raw report JSON and when it arrived. The second
// return is false when no report has been received yet.
func (r *ReportCache) Latest() ([]byte, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), r.latest...), r.receivedAt, true
}
