package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/julienschmidt/httprouter"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const (
	cookieName = "bytenosh_session"
	sessionTTL = 14 * 24 * time.Hour
)

var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("bytenosh-unknown-user")
	return h
})

// Store issues and reads staff session cookies.
type Store struct {
	sc    *securecookie.SecureCookie
	users Users
}

func NewStore(users Users, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	// keep cookie small and secure
	sc.MaxAge(int(sessionTTL.Seconds()))
	return &Store{sc: sc, users: users}
}

func (s *Store) Users() Users { return s.users }

func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	const op = "auth.Authenticate"

	u, err := s.users.ByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, waitlist.ErrNotFound) {
			// unknown users still pay for one bcrypt comparison
			CheckPassword(dummyHash(), password)
			return User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	return u, nil
}

type Session struct {
	UserID string
	Role   Role
}

type cookieValue struct {
	UID  string
	Role Role
	V    int
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, u User) error {
	encoded, err := s.sc.Encode(cookieName, cookieValue{UID: u.ID, Role: u.Role, V: 1})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	var v cookieValue
	if err := s.sc.Decode(cookieName, c.Value, &v); err != nil {
		return Session{}, false
	}
	if v.UID == "" || v.V != 1 {
		return Session{}, false
	}
	return Session{UserID: v.UID, Role: v.Role}, true
}

// Authenticator turns request credentials into a waitlist.Actor: a staff
// session cookie first, then a party token from the Authorization header or
// the token query parameter.
type Authenticator struct {
	Sessions *Store
	Tokens   *PartyTokens
}

func (a *Authenticator) Actor(r *http.Request) (waitlist.Actor, bool) {
	if sess, ok := a.Sessions.GetSession(r); ok {
		return waitlist.Staff(sess.UserID), true
	}
	tok := bearer(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		return waitlist.Actor{}, false
	}
	entryID, err := a.Tokens.Parse(tok)
	if err != nil {
		return waitlist.Actor{}, false
	}
	return waitlist.Party(entryID), true
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type ctxKey struct{}

// WithActor resolves the caller and stores it in the request context. Anonymous
// requests pass through with the zero Actor.
func (a *Authenticator) WithActor(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		actor, _ := a.Actor(r)
		next(w, r.WithContext(ContextWithActor(r.Context(), actor)), ps)
	}
}

// RequireActor rejects requests without any credentials with 401.
func (a *Authenticator) RequireActor(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		actor, ok := a.Actor(r)
		if !ok {
			unauthorized(w)
			return
		}
		next(w, r.WithContext(ContextWithActor(r.Context(), actor)), ps)
	}
}

// RequireStaff only lets a valid staff session through.
func (a *Authenticator) RequireStaff(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess, ok := a.Sessions.GetSession(r)
		if !ok {
			unauthorized(w)
			return
		}
		next(w, r.WithContext(ContextWithActor(r.Context(), waitlist.Staff(sess.UserID))), ps)
	}
}

func ContextWithActor(ctx context.Context, a waitlist.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFromContext(ctx context.Context) waitlist.Actor {
	a, _ := ctx.Value(ctxKey{}).(waitlist.Actor)
	return a
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
}
