package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userView struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	u, err := s.Auth.Sessions.Authenticate(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid username/password")
			return
		}
		s.respondErr(w, r, err)
		return
	}
	if err := s.Auth.Sessions.SetSession(w, r, u); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.Log.Info("staff logged in", slog.String("user_id", u.ID))
	respondJSON(w, http.StatusOK, userView{ID: u.ID, Username: u.Username, Role: u.Role})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.Auth.Sessions.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

type joinResponse struct {
	Entry     waitlist.Entry `json:"entry"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	StatusURL string         `json:"statusUrl"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req waitlist.JoinRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	e, err := s.Waitlist.Join(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	tok, exp, err := s.Tokens.Issue(e.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, joinResponse{
		Entry:     e,
		Token:     tok,
		ExpiresAt: exp,
		StatusURL: s.statusURL(e.ID),
	})
}

func (s *Server) statusURL(id string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/api/waitlist/entries/" + id
}

func slotFromQuery(r *http.Request) waitlist.SlotKey {
	q := r.URL.Query()
	return waitlist.NewSlotKey(q.Get("date"), q.Get("timeSlot"), q.Get("section"))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries, err := s.Waitlist.ListActive(r.Context(), auth.ActorFromContext(r.Context()), slotFromQuery(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []waitlist.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e, err := s.Waitlist.Get(r.Context(), auth.ActorFromContext(r.Context()), ps.ByName("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

type entryRequest struct {
	EntryID string `json:"entryId"`
}

type notifyRequest struct {
	EntryID  string `json:"entryId"`
	Date     string `json:"date"`
	TimeSlot string `json:"timeSlot"`
	Section  string `json:"section"`
}

// handleNotify notifies a named entry, or the head of a slot's queue when only
// the slot is given.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req notifyRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	actor := auth.ActorFromContext(r.Context())

	var (
		e   waitlist.Entry
		err error
	)
	if req.EntryID != "" {
		e, err = s.Waitlist.Notify(r.Context(), actor, req.EntryID)
	} else {
		e, err = s.Waitlist.NotifyNext(r.Context(), actor, waitlist.NewSlotKey(req.Date, req.TimeSlot, req.Section))
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

type entryOp func(ctx context.Context, actor waitlist.Actor, id string) (waitlist.Entry, error)

// entryAction adapts a service operation on a single entry to a handler
// taking {"entryId": ...}.
func (s *Server) entryAction(op entryOp) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req entryRequest
		if err := decode(r, &req); err != nil {
			s.respondErr(w, r, err)
			return
		}
		if req.EntryID == "" {
			s.respondErr(w, r, fmt.Errorf("%w: entryId is required", waitlist.ErrValidation))
			return
		}
		e, err := op(r.Context(), auth.ActorFromContext(r.Context()), req.EntryID)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, e)
	}
}

type capacityView struct {
	waitlist.CapacitySlot
	FreeSeats int `json:"freeSeats"`
}

func viewOf(c waitlist.CapacitySlot) capacityView {
	return capacityView{CapacitySlot: c, FreeSeats: c.FreeSeats()}
}

// handleCapacity reports one slot, or every configured slot of the date when
// no timeSlot is given.
func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	key := slotFromQuery(r)
	if key.TimeSlot == "" {
		slots, err := s.Tracker.List(r.Context(), key.Date)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		out := make([]capacityView, 0, len(slots))
		for _, c := range slots {
			out = append(out, viewOf(c))
		}
		respondJSON(w, http.StatusOK, map[string]any{"slots": out})
		return
	}

	c, err := s.Tracker.Slot(r.Context(), key)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(c))
}

type configureRequest struct {
	Date       string `json:"date"`
	TimeSlot   string `json:"timeSlot"`
	Section    string `json:"section"`
	TotalSeats int    `json:"totalSeats"`
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req configureRequest
	if err := decode(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	key := waitlist.NewSlotKey(req.Date, req.TimeSlot, req.Section)
	c, err := s.Tracker.Configure(r.Context(), key, req.TotalSeats)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.Log.Info("capacity configured",
		slog.String("slot", key.String()),
		slog.Int("total", c.TotalSeats),
		slog.String("by", auth.ActorFromContext(r.Context()).Subject),
	)
	respondJSON(w, http.StatusOK, viewOf(c))
}
