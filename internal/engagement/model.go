// Package engagement implements anonymous like tracking for public pet
// share pages: durable per-visitor deduplication, an authoritative
// store-owned counter, and an optimistic client-side tracker that
// reconciles against it.
package engagement

// State is the engagement view for one pet as seen by one visitor.
// Count is the denormalized counter owned by the store; it is never
// recomputed client-side by scanning records.
type State struct {
	Count int64 `json:"count"`
	Liked bool  `json:"liked"`
}
