package model

import (
	"sort"
	"time"
)

// ContentType is the media kind of a scheduled content item.
type ContentType string

const (
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentGIF   ContentType = "gif"
)

// Valid reports whether t is a supported media kind.
func (t ContentType) Valid() bool {
	return t == ContentImage || t == ContentVideo || t == ContentGIF
}

// DefaultContentDuration applies to items without an explicit duration.
const DefaultContentDuration = 10 * time.Second

// ContentItem is one piece of media scheduled to play on a screen.
type ContentItem struct {
	ID              uint64      `json:"id"`
	ScreenID        uint64      `json:"screen_id"`
	BookingID       *uint64     `json:"booking_id,omitempty"`
	URL             string      `json:"url"`
	Type            ContentType `json:"type"`
	ScheduledTime   time.Time   `json:"scheduled_time"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
}

// Duration returns how long the item plays, defaulting to ten seconds.
func (c ContentItem) Duration() time.Duration {
	if c.DurationSeconds <= 0 {
		return DefaultContentDuration
	}
	return time.Duration(c.DurationSeconds) * time.Second
}

// EndTime is the first instant after the item stops playing.
func (c ContentItem) EndTime() time.Time {
	return c.ScheduledTime.Add(c.Duration())
}

// PlayingAt reports whether now lies in [ScheduledTime, EndTime).
func (c ContentItem) PlayingAt(now time.Time) bool {
	return !now.Before(c.ScheduledTime) && now.Before(c.EndTime())
}

// ContentSchedule is the full set of items a screen is due to show. A
// schedule is never edited in place; a refetch replaces it.
type ContentSchedule struct {
	ScreenID    uint64        `json:"screen_id"`
	Items       []ContentItem `json:"items"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Current returns the item playing at now. When items overlap, the first
// one in storage order wins.
func (s *ContentSchedule) Current(now time.Time) (ContentItem, bool) {
	if s == nil {
		return ContentItem{}, false
	}
	for _, it := range s.Items {
		if it.PlayingAt(now) {
			return it, true
		}
	}
	return ContentItem{}, false
}

// Next returns the earliest item scheduled strictly after now. Ties keep
// storage order, so the result does not depend on how items were sorted.
func (s *ContentSchedule) Next(now time.Time) (ContentItem, bool) {
	if s == nil {
		return ContentItem{}, false
	}
	upcoming := make([]ContentItem, 0, len(s.Items))
	for _, it := range s.Items {
		if it.ScheduledTime.After(now) {
			upcoming = append(upcoming, it)
		}
	}
	if len(upcoming) == 0 {
		return ContentItem{}, false
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].ScheduledTime.Before(upcoming[j].ScheduledTime)
	})
	return upcoming[0], true
}
