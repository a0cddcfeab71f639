package waitlist

import (
	"strings"
	"time"
)

type EventType string

const (
	EventEntryQueued    EventType = "ENTRY_QUEUED"
	EventEntryNotified  EventType = "ENTRY_NOTIFIED"
	EventYouAreUp       EventType = "YOU_ARE_UP"
	EventEntrySeated    EventType = "ENTRY_SEATED"
	EventEntryExpired   EventType = "ENTRY_EXPIRED"
	EventEntryCancelled EventType = "ENTRY_CANCELLED"
	EventEntryDeparted  EventType = "ENTRY_DEPARTED"
	// EventQueueHead points staff at the next QUEUED entry after seats were released.
	EventQueueHead EventType = "QUEUE_HEAD"
)

// RoutingKey is the dotted lower-case form used by message brokers.
func (t EventType) RoutingKey() string {
	return strings.ToLower(strings.ReplaceAll(string(t), "_", "."))
}

// StatusEvent is what subscribers receive.
type StatusEvent struct {
	Type       EventType `json:"type"`
	Entry      Entry     `json:"entry"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	staffTopicPrefix = "staff:"
	partyTopicPrefix = "party:"
)

func StaffTopic(k SlotKey) string { return staffTopicPrefix + k.String() }

func PartyTopic(entryID string) string { return partyTopicPrefix + entryID }

// ParseTopic splits a topic into its scope ("staff" or "party") and subject.
func ParseTopic(topic string) (scope, subject string, ok bool) {
	switch {
	case strings.HasPrefix(topic, staffTopicPrefix):
		subject = strings.TrimPrefix(topic, staffTopicPrefix)
		if _, err := ParseSlotKey(subject); err != nil {
			return "", "", false
		}
		return "staff", subject, true
	case strings.HasPrefix(topic, partyTopicPrefix):
		subject = strings.TrimPrefix(topic, partyTopicPrefix)
		return "party", subject, subject != ""
	}
	return "", "", false
}

// Publication is one event bound for one topic.
type Publication struct {
	Topic string      `json:"topic"`
	Event StatusEvent `json:"event"`
}

// EventsFor maps a status change to the publications it produces.
func EventsFor(prev Status, e Entry, at time.Time) []Publication {
	staff := StaffTopic(e.Slot())
	party := PartyTopic(e.ID)
	ev := func(t EventType) StatusEvent { return StatusEvent{Type: t, Entry: e, OccurredAt: at} }

	switch {
	case prev == "" && e.Status == StatusQueued:
		return []Publication{{staff, ev(EventEntryQueued)}, {party, ev(EventEntryQueued)}}
	case e.Status == StatusSeated:
		return []Publication{{staff, ev(EventEntrySeated)}, {party, ev(EventEntrySeated)}}
	case prev == StatusQueued && e.Status == StatusNotified:
		return []Publication{{party, ev(EventYouAreUp)}, {staff, ev(EventEntryNotified)}}
	case e.Status == StatusCancelled:
		return []Publication{{staff, ev(EventEntryCancelled)}, {party, ev(EventEntryCancelled)}}
	case prev == StatusNotified && e.Status == StatusExpired:
		return []Publication{{staff, ev(EventEntryExpired)}, {party, ev(EventEntryExpired)}}
	}
	return nil
}
