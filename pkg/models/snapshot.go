package models

import "time"

// Snapshot is the aggregated unit the delivery cache stores and serves.
// A Snapshot is never modified after construction; callers must treat the
// slices and maps it holds as read-only.
type Snapshot struct {
	Key       string                     `json:"key"`
	FetchedAt time.Time                  `json:"fetched_at"`
	Articles  []Article                  `json:"articles"`
	AdSlots   map[string][]Advertisement `json:"ad_slots"`
	Auxiliary *Rates                     `json:"auxiliary,omitempty"`
}

// Stamp returns the time the snapshot was assembled.
func (s *Snapshot) Stamp() time.Time { return s.FetchedAt }

// AdsFor returns a copy of the ads for a placement, or nil.
func (s *Snapshot) AdsFor(placement string) []Advertisement {
	ads := s.AdSlots[placement]
	if len(ads) == 0 {
		return nil
	}
	out := make([]Advertisement, len(ads))
	copy(out, ads)
	return out
}
