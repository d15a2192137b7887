package models

import "time"

// SystemMetrics is a point-in-time summary of process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	SubstitutionsAssigned    uint64    `json:"substitutions_assigned"`
	SubstitutionsRevoked     uint64    `json:"substitutions_revoked"`
	SubstitutionConflicts    uint64    `json:"substitution_conflicts"`
	TimetableLessons         int       `json:"timetable_lessons"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
