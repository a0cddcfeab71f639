package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lock"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/notify"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/service"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/memory"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const (
	staffUser = "host"
	staffPass = "correct-horse-battery"
)

var slot = waitlist.NewSlotKey("2024-08-15", "19:00", "")

type env struct {
	t     *testing.T
	srv   *httptest.Server
	bus   *notify.Bus
	staff *http.Client
}

func newEnv(t *testing.T, limiter *RateLimiter) *env {
	t.Helper()
	log := sl.Discard()
	m := metrics.New()
	bus := notify.New(log, m, notify.Options{Buffer: 64})
	tracker := availability.New(memory.NewCapacity())
	svc := service.New(log, memory.NewEntries(), tracker, lock.NewKeyedMutex(), bus, m, service.Options{})

	users := auth.NewMemoryUsers()
	_, err := auth.CreateUser(context.Background(), users, staffUser, staffPass, auth.RoleStaff)
	require.NoError(t, err)
	tokens := auth.NewPartyTokens(securecookie.GenerateRandomKey(32), time.Hour)

	if limiter == nil {
		limiter = NewRateLimiter(1000, 1000)
	}
	s := &Server{
		Log:      log,
		Waitlist: svc,
		Tracker:  tracker,
		Auth: &auth.Authenticator{
			Sessions: auth.NewStore(users, securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32)),
			Tokens:   tokens,
		},
		Tokens:      tokens,
		Bus:         bus,
		Metrics:     m,
		Limiter:     limiter,
		BaseURL:     "http://bytenosh.test",
		CORSOrigins: []string{"*"},
	}
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		bus.Close()
	})

	e := &env{t: t, srv: srv, bus: bus}
	e.staff = e.login()
	return e
}

func (e *env) login() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(e.t, err)
	c := &http.Client{Jar: jar}
	resp := e.do(c, http.MethodPost, "/api/auth/login", "", map[string]string{"username": staffUser, "password": staffPass})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	return c
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), string(r.Body))
}

func (e *env) do(c *http.Client, method, path, token string, body any) response {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}
}

func (e *env) join(guests int) joinResponse {
	e.t.Helper()
	resp := e.do(nil, http.MethodPost, "/api/waitlist/join", "", waitlist.JoinRequest{
		PartyName: gofakeit.Name(),
		Contact:   gofakeit.Email(),
		Date:      slot.Date,
		TimeSlot:  slot.TimeSlot,
		Guests:    guests,
	})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode, string(resp.Body))
	var out joinResponse
	resp.decode(e.t, &out)
	return out
}

func (e *env) configure(total int) {
	e.t.Helper()
	resp := e.do(e.staff, http.MethodPut, "/api/capacity", "", configureRequest{
		Date: slot.Date, TimeSlot: slot.TimeSlot, TotalSeats: total,
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode, string(resp.Body))
}

func errorOf(t *testing.T, r response) string {
	t.Helper()
	var body map[string]string
	r.decode(t, &body)
	return body["error"]
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(nil, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestLogin(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(nil, http.MethodPost, "/api/auth/login", "", map[string]string{"username": staffUser, "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(e.staff, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = e.do(e.staff, http.MethodGet, "/api/waitlist/active?date=2024-08-15&timeSlot=19:00", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinAndReadOwnEntry(t *testing.T) {
	e := newEnv(t, nil)
	mine := e.join(2)
	theirs := e.join(3)

	assert.Equal(t, waitlist.StatusQueued, mine.Entry.Status)
	assert.NotEmpty(t, mine.Token)
	assert.Equal(t, "http://bytenosh.test/api/waitlist/entries/"+mine.Entry.ID, mine.StatusURL)

	resp := e.do(nil, http.MethodGet, "/api/waitlist/entries/"+mine.Entry.ID, mine.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got waitlist.Entry
	resp.decode(t, &got)
	assert.Equal(t, mine.Entry.ID, got.ID)

	resp = e.do(nil, http.MethodGet, "/api/waitlist/entries/"+theirs.Entry.ID, mine.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(nil, http.MethodGet, "/api/waitlist/entries/"+mine.Entry.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(e.staff, http.MethodGet, "/api/waitlist/entries/"+theirs.Entry.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(e.staff, http.MethodGet, "/api/waitlist/entries/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinValidation(t *testing.T) {
	e := newEnv(t, nil)

	resp := e.do(nil, http.MethodPost, "/api/waitlist/join", "", waitlist.JoinRequest{
		PartyName: "Ada", Contact: "ada@example.com", Date: "tomorrow", TimeSlot: "19:00", Guests: 2,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(errorOf(t, resp), waitlist.ErrValidation.Error()), errorOf(t, resp))

	resp = e.do(nil, http.MethodPost, "/api/waitlist/join", "", map[string]any{"guests": "two"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(nil, http.MethodPost, "/api/waitlist/join", "", waitlist.JoinRequest{
		PartyName: "Ada", Contact: "ada@example.com", Date: "2024-08-15", TimeSlot: "19:00", Section: "patio|left", Guests: 2,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJoinIsRateLimited(t *testing.T) {
	e := newEnv(t, NewRateLimiter(0.001, 2))
	e.join(1)
	e.join(1)

	resp := e.do(nil, http.MethodPost, "/api/waitlist/join", "", waitlist.JoinRequest{
		PartyName: "Ada", Contact: "ada@example.com", Date: slot.Date, TimeSlot: slot.TimeSlot, Guests: 1,
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestStaffFlow(t *testing.T) {
	e := newEnv(t, nil)
	e.configure(4)

	seated := e.join(4)
	assert.Equal(t, waitlist.StatusSeated, seated.Entry.Status)
	queued := e.join(2)
	assert.Equal(t, waitlist.StatusQueued, queued.Entry.Status)

	resp := e.do(e.staff, http.MethodGet, "/api/waitlist/active?date=2024-08-15&timeSlot=19:00", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active struct {
		Entries []waitlist.Entry `json:"entries"`
	}
	resp.decode(t, &active)
	require.Len(t, active.Entries, 1, "seated parties have left the queue")
	assert.Equal(t, queued.Entry.ID, active.Entries[0].ID)

	resp = e.do(e.staff, http.MethodPost, "/api/waitlist/notify", "", notifyRequest{Date: slot.Date, TimeSlot: slot.TimeSlot})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
	var notified waitlist.Entry
	resp.decode(t, &notified)
	assert.Equal(t, queued.Entry.ID, notified.ID)
	assert.Equal(t, waitlist.StatusNotified, notified.Status)

	resp = e.do(e.staff, http.MethodPost, "/api/waitlist/notify", "", notifyRequest{Date: slot.Date, TimeSlot: slot.TimeSlot})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(e.staff, http.MethodPost, "/api/waitlist/confirm", "", entryRequest{EntryID: queued.Entry.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(e.staff, http.MethodPost, "/api/waitlist/depart", "", entryRequest{EntryID: seated.Entry.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(e.staff, http.MethodPost, "/api/waitlist/depart", "", entryRequest{EntryID: seated.Entry.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(nil, http.MethodGet, "/api/capacity?date=2024-08-15&timeSlot=19:00", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c capacityView
	resp.decode(t, &c)
	assert.Equal(t, 4, c.TotalSeats)
	assert.Equal(t, 4, c.FreeSeats)
}

func TestPartyCancelsOnce(t *testing.T) {
	e := newEnv(t, nil)
	j := e.join(2)

	resp := e.do(nil, http.MethodPost, "/api/waitlist/cancel", j.Token, entryRequest{EntryID: j.Entry.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(nil, http.MethodPost, "/api/waitlist/cancel", j.Token, entryRequest{EntryID: j.Entry.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), waitlist.ErrInvalidTransition.Error())

	resp = e.do(nil, http.MethodPost, "/api/waitlist/cancel", j.Token, entryRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStaffOnlyRoutes(t *testing.T) {
	e := newEnv(t, nil)
	j := e.join(2)

	for _, path := range []string{"/api/waitlist/notify", "/api/waitlist/confirm", "/api/waitlist/depart"} {
		resp := e.do(nil, http.MethodPost, path, j.Token, entryRequest{EntryID: j.Entry.ID})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp := e.do(nil, http.MethodPut, "/api/capacity", "", configureRequest{Date: slot.Date, TimeSlot: slot.TimeSlot, TotalSeats: 9})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCapacityListing(t *testing.T) {
	e := newEnv(t, nil)
	e.configure(6)

	resp := e.do(e.staff, http.MethodPut, "/api/capacity", "", configureRequest{Date: slot.Date, TimeSlot: slot.TimeSlot, TotalSeats: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(nil, http.MethodGet, "/api/capacity?date=2024-08-15", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Slots []capacityView `json:"slots"`
	}
	resp.decode(t, &out)
	require.Len(t, out.Slots, 1)
	assert.Equal(t, 6, out.Slots[0].FreeSeats)

	resp = e.do(nil, http.MethodGet, "/api/capacity?date=someday", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQRCode(t *testing.T) {
	e := newEnv(t, nil)
	j := e.join(2)

	resp := e.do(nil, http.MethodGet, "/api/waitlist/entries/"+j.Entry.ID+"/qr", j.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body, []byte("\x89PNG")))
}

func (e *env) dial(header http.Header, topics ...string) (*websocket.Conn, *http.Response, error) {
	q := url.Values{"topic": topics}
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?" + q.Encode()
	return websocket.DefaultDialer.Dial(u, header)
}

func (e *env) staffHeader() http.Header {
	u, err := url.Parse(e.srv.URL)
	require.NoError(e.t, err)
	h := http.Header{}
	for _, c := range e.staff.Jar.Cookies(u) {
		h.Add("Cookie", c.String())
	}
	return h
}

func readEvent(t *testing.T, conn *websocket.Conn) waitlist.StatusEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev waitlist.StatusEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocketStreamsEvents(t *testing.T) {
	e := newEnv(t, nil)
	j := e.join(2)

	party, _, err := e.dial(http.Header{"Authorization": {"Bearer " + j.Token}}, waitlist.PartyTopic(j.Entry.ID))
	require.NoError(t, err)
	defer party.Close()

	staff, _, err := e.dial(e.staffHeader(), waitlist.StaffTopic(slot))
	require.NoError(t, err)
	defer staff.Close()

	resp := e.do(e.staff, http.MethodPost, "/api/waitlist/notify", "", notifyRequest{EntryID: j.Entry.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := readEvent(t, party)
	assert.Equal(t, waitlist.EventYouAreUp, ev.Type)
	assert.Equal(t, j.Entry.ID, ev.Entry.ID)

	ev = readEvent(t, staff)
	assert.Equal(t, waitlist.EventEntryNotified, ev.Type)
}

func TestWebSocketAuthorizesTopics(t *testing.T) {
	e := newEnv(t, nil)
	mine := e.join(2)
	theirs := e.join(2)
	bearer := http.Header{"Authorization": {"Bearer " + mine.Token}}

	_, resp, err := e.dial(bearer, waitlist.StaffTopic(slot))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = e.dial(bearer, waitlist.PartyTopic(theirs.Entry.ID))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = e.dial(nil, waitlist.PartyTopic(mine.Entry.ID))
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = e.dial(bearer)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = e.dial(e.staffHeader(), "kitchen:all")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketClosesOnBusShutdown(t *testing.T) {
	e := newEnv(t, nil)
	conn, _, err := e.dial(e.staffHeader(), waitlist.StaffTopic(slot))
	require.NoError(t, err)
	defer conn.Close()

	e.bus.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
