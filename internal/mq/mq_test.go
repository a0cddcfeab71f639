package mq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

func TestMessageKeepsOneCopyPerEvent(t *testing.T) {
	e := waitlist.Entry{
		ID:            "0190c0de-0000-7000-8000-000000000001",
		RequestedDate: "2024-08-15",
		TimeSlot:      "19:00",
		Section:       "main",
		Guests:        2,
		Status:        waitlist.StatusNotified,
	}
	at := time.Date(2024, 8, 15, 18, 30, 0, 0, time.UTC)

	var kept []waitlist.EventType
	for _, p := range waitlist.EventsFor(waitlist.StatusQueued, e, at) {
		msg, ok, err := message(p)
		require.NoError(t, err)
		if !ok {
			continue
		}
		kept = append(kept, msg.Type)
		assert.Equal(t, e.ID, msg.EntryID)
		assert.Equal(t, at, msg.OccurredAt)

		var ev waitlist.StatusEvent
		require.NoError(t, json.Unmarshal(msg.Body, &ev))
		assert.Equal(t, msg.Type, ev.Type)
	}
	assert.ElementsMatch(t, []waitlist.EventType{waitlist.EventYouAreUp, waitlist.EventEntryNotified}, kept)

	e.Status = waitlist.StatusCancelled
	kept = kept[:0]
	for _, p := range waitlist.EventsFor(waitlist.StatusNotified, e, at) {
		if msg, ok, _ := message(p); ok {
			kept = append(kept, msg.Type)
		}
	}
	assert.Equal(t, []waitlist.EventType{waitlist.EventEntryCancelled}, kept)
}

func TestMessageIgnoresUnknownTopics(t *testing.T) {
	_, ok, err := message(waitlist.Publication{Topic: "other", Event: waitlist.StatusEvent{Type: waitlist.EventEntryQueued}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, "entry.queued", waitlist.EventEntryQueued.RoutingKey())
	assert.Equal(t, "you.are.up", waitlist.EventYouAreUp.RoutingKey())
	assert.Equal(t, "queue.head", waitlist.EventQueueHead.RoutingKey())
}

func TestRepeatedQueueHeadsGetDistinctIDs(t *testing.T) {
	head := waitlist.Entry{ID: "e1", RequestedDate: "2024-08-15", TimeSlot: "19:00", Section: "main", Status: waitlist.StatusQueued}
	first := time.Date(2024, 8, 15, 19, 5, 0, 0, time.UTC)
	pub := func(at time.Time) waitlist.Publication {
		return waitlist.Publication{
			Topic: waitlist.StaffTopic(head.Slot()),
			Event: waitlist.StatusEvent{Type: waitlist.EventQueueHead, Entry: head, OccurredAt: at},
		}
	}

	a, ok, err := message(pub(first))
	require.NoError(t, err)
	require.True(t, ok)
	b, ok, err := message(pub(first.Add(time.Minute)))
	require.NoError(t, err)
	require.True(t, ok)
	again, _, err := message(pub(first))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.ID, again.ID)
}
