package waitlist

import (
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJoin() JoinRequest {
	return JoinRequest{
		PartyName: gofakeit.Name(),
		Contact:   gofakeit.Phone(),
		Date:      "2024-08-15",
		TimeSlot:  "19:00",
		Guests:    2,
	}
}

func TestJoinRequestValidate(t *testing.T) {
	require.NoError(t, validJoin().Normalize().Validate())

	cases := map[string]func(r *JoinRequest){
		"zero guests":     func(r *JoinRequest) { r.Guests = 0 },
		"negative guests": func(r *JoinRequest) { r.Guests = -3 },
		"missing slot":    func(r *JoinRequest) { r.TimeSlot = "  " },
		"bad slot":        func(r *JoinRequest) { r.TimeSlot = "7pm" },
		"bad date":        func(r *JoinRequest) { r.Date = "15/08/2024" },
		"missing name":    func(r *JoinRequest) { r.PartyName = "" },
		"missing contact": func(r *JoinRequest) { r.Contact = "" },
		"separator":       func(r *JoinRequest) { r.Section = "patio|left" },
		"long section":    func(r *JoinRequest) { r.Section = strings.Repeat("s", 65) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validJoin()
			mutate(&r)
			err := r.Normalize().Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestJoinRequestHasNoGuestCeiling(t *testing.T) {
	r := validJoin()
	r.Guests = 250
	assert.NoError(t, r.Normalize().Validate())
}

func TestJoinRequestNormalize(t *testing.T) {
	r := JoinRequest{PartyName: "  Ada ", Contact: " 555 ", Date: "2024-08-15", TimeSlot: " 19:00 ", Guests: 1}.Normalize()
	assert.Equal(t, "Ada", r.PartyName)
	assert.Equal(t, "555", r.Contact)
	assert.Equal(t, "19:00", r.TimeSlot)
	assert.Equal(t, DefaultSection, r.Section)
}

func TestSlotKeyRoundTrip(t *testing.T) {
	k := NewSlotKey("2024-08-15", "19:00", "terrace")
	got, err := ParseSlotKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = ParseSlotKey("2024-08-15|19:00")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSlotKeyValidateRejectsSeparator(t *testing.T) {
	err := NewSlotKey("2024-08-15", "19:00", "patio|left").Validate()
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseSlotKey("2024-08-15|19:00|patio|left")
	assert.ErrorIs(t, err, ErrValidation)
}

// Every slot a party can join must be watchable by staff.
func TestAcceptedSlotsHaveParseableStaffTopics(t *testing.T) {
	sections := []string{"", "main", "terrace", "patio left", "bar:counter", "Salle 2", strings.Repeat("x", 64), "patio|left", "a||b"}
	for _, section := range sections {
		r := validJoin()
		r.Section = section
		r = r.Normalize()
		if r.Validate() != nil {
			continue
		}
		key := r.Slot()
		scope, subject, ok := ParseTopic(StaffTopic(key))
		require.True(t, ok, "section %q", section)
		assert.Equal(t, "staff", scope)
		got, err := ParseSlotKey(subject)
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}
}

func TestEntryOrdering(t *testing.T) {
	now := time.Now()
	a := Entry{ID: "a", CreatedAt: now}
	b := Entry{ID: "b", CreatedAt: now}
	c := Entry{ID: "0", CreatedAt: now.Add(time.Millisecond)}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c))
}

func TestFreeSeatsNeverNegative(t *testing.T) {
	assert.Equal(t, 0, CapacitySlot{TotalSeats: 2, ReservedSeats: 5}.FreeSeats())
	assert.Equal(t, 3, CapacitySlot{TotalSeats: 4, ReservedSeats: 1}.FreeSeats())
}

func TestEventsFor(t *testing.T) {
	e := Entry{ID: "e1", RequestedDate: "2024-08-15", TimeSlot: "19:00", Section: "main"}
	at := time.Now()

	e.Status = StatusNotified
	pubs := EventsFor(StatusQueued, e, at)
	require.Len(t, pubs, 2)
	assert.Equal(t, PartyTopic("e1"), pubs[0].Topic)
	assert.Equal(t, EventYouAreUp, pubs[0].Event.Type)
	assert.Equal(t, StaffTopic(e.Slot()), pubs[1].Topic)
	assert.Equal(t, EventEntryNotified, pubs[1].Event.Type)

	e.Status = StatusExpired
	pubs = EventsFor(StatusNotified, e, at)
	require.Len(t, pubs, 2)
	assert.Equal(t, EventEntryExpired, pubs[0].Event.Type)

	assert.Equal(t, "entry.queued", EventEntryQueued.RoutingKey())
}

func TestParseTopic(t *testing.T) {
	scope, subject, ok := ParseTopic("staff:2024-08-15|19:00|main")
	require.True(t, ok)
	assert.Equal(t, "staff", scope)
	assert.Equal(t, "2024-08-15|19:00|main", subject)

	scope, subject, ok = ParseTopic(PartyTopic("abc"))
	require.True(t, ok)
	assert.Equal(t, "party", scope)
	assert.Equal(t, "abc", subject)

	_, _, ok = ParseTopic("staff:nonsense")
	assert.False(t, ok)
	_, _, ok = ParseTopic("kitchen:1")
	assert.False(t, ok)
}
