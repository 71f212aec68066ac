package models

import "time"

// CallType distinguishes an upstream fetch from a cache-served read.
type CallType string

const (
	CallTypeAPI   CallType = "api"
	CallTypeCache CallType = "cache"
)

// APICallRecord is one accounting event.
type APICallRecord struct {
	Timestamp time.Time `json:"ts"`
	Type      CallType  `json:"type"`
	Method    string    `json:"method"`
	Symbol    string    `json:"symbol,omitempty"`
}

// CallStatsDelta is an increment of the durable call counters.
type CallStatsDelta struct {
	APICalls        int64            `json:"apiCalls"`
	CacheHits       int64            `json:"cacheHits"`
	MethodBreakdown map[string]int64 `json:"methodBreakdown"`
}

// IsZero reports whether applying the delta would change nothing.
func (d CallStatsDelta) IsZero() bool {
	if d.APICalls != 0 || d.CacheHits != 0 {
		return false
	}
	for _, n := range d.MethodBreakdown {
		if n != 0 {
			return false
		}
	}
	return true
}

// PersistedCallStats are the cross-instance cumulative call counters.
type PersistedCallStats struct {
	APICalls        int64            `json:"apiCalls"`
	CacheHits       int64            `json:"cacheHits"`
	LastFlushed     time.Time        `json:"lastFlushed"`
	MethodBreakdown map[string]int64 `json:"methodBreakdown"`
	Counters        map[string]int64 `json:"counters,omitempty"`
}

// CacheHitRate returns cache hits as a percentage of all recorded calls.
func (s PersistedCallStats) CacheHitRate() float64 {
	total := s.APICalls + s.CacheHits
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// RecentStats is derived from the in-process ring buffer.
type RecentStats struct {
	APICalls            int64           `json:"apiCalls"`
	CacheHits           int64           `json:"cacheHits"`
	RecentRatePerSecond float64         `json:"recentRatePerSecond"`
	Last60sRecords      []APICallRecord `json:"last60sRecords"`
}
