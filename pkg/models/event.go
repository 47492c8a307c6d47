package models

import "time"

// EventKind discriminates behavior events.
type EventKind string

const (
	EventVisitCategory EventKind = "visit_category"
	EventVisitTag      EventKind = "visit_tag"
	EventScroll        EventKind = "scroll"
	EventReadingTime   EventKind = "reading_time"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventVisitCategory, EventVisitTag, EventScroll, EventReadingTime:
		return true
	}
	return false
}

// BehaviorEvent is a navigation or interaction signal reported by the
// rendering layer. ID and At are assigned when the event is recorded.
type BehaviorEvent struct {
	ID           string        `json:"id,omitempty"`
	Kind         EventKind     `json:"kind"`
	Topic        string        `json:"topic,omitempty"`
	DepthPercent float64       `json:"depth_percent,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	At           time.Time     `json:"at"`
}

// TopicKey returns the interest key a visit event names, e.g.
// "category:sports" or "tag:elections". Other kinds return "".
func (e BehaviorEvent) TopicKey() string {
	if e.Topic == "" {
		return ""
	}
	switch e.Kind {
	case EventVisitCategory:
		return "category:" + e.Topic
	case EventVisitTag:
		return "tag:" + e.Topic
	}
	return ""
}

// VisitCategory builds a visit_category event.
func VisitCategory(category string) BehaviorEvent {
	return BehaviorEvent{Kind: EventVisitCategory, Topic: category}
}

// VisitTag builds a visit_tag event.
func VisitTag(tag string) BehaviorEvent {
	return BehaviorEvent{Kind: EventVisitTag, Topic: tag}
}

// Scroll builds a scroll event with a depth in percent (0-100).
func Scroll(depthPercent float64) BehaviorEvent {
	return BehaviorEvent{Kind: EventScroll, DepthPercent: depthPercent}
}

// ReadingTime builds a reading_time event.
func ReadingTime(d time.Duration) BehaviorEvent {
	return BehaviorEvent{Kind: EventReadingTime, Duration: d}
}

// PrefetchTarget is a topic the interest model predicts will be requested.
type PrefetchTarget struct {
	Topic     string    `json:"topic"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}
