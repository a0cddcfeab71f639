package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/db"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStaff, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", waitlist.ErrValidation, s)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
}

// Users stores staff accounts.
type Users interface {
	Insert(ctx context.Context, u User) (User, error)
	ByUsername(ctx context.Context, username string) (User, error)
}

type newUser struct {
	Username string `validate:"required,max=64,printascii"`
	Password string `validate:"required,min=8,max=72"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// CreateUser validates and hashes the password before storing the account.
func CreateUser(ctx context.Context, users Users, username, password string, role Role) (User, error) {
	const op = "auth.CreateUser"

	if err := validate.Struct(newUser{Username: username, Password: password}); err != nil {
		return User{}, fmt.Errorf("%s: %w: %v", op, waitlist.ErrValidation, err)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u, err := users.Insert(ctx, User{Username: username, PasswordHash: hash, Role: role})
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// PGUsers keeps accounts in the users table.
type PGUsers struct {
	db *db.DB
}

func NewPGUsers(d *db.DB) *PGUsers {
	return &PGUsers{db: d}
}

func (s *PGUsers) Insert(ctx context.Context, u User) (User, error) {
	const op = "auth.PGUsers.Insert"

	err := s.db.QueryRow(ctx,
		`INSERT INTO users(username, password_bcrypt, role) VALUES ($1,$2,$3) RETURNING id::text`,
		u.Username, u.PasswordHash, string(u.Role),
	).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PGUsers) ByUsername(ctx context.Context, username string) (User, error) {
	const op = "auth.PGUsers.ByUsername"

	u := User{Username: username}
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT id::text, password_bcrypt, role FROM users WHERE username=$1`, username,
	).Scan(&u.ID, &u.PasswordHash, &role)
	if err != nil {
		if db.IsNotFound(err) {
			return User{}, fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.Role = Role(role)
	return u, nil
}

// MemoryUsers is used with the memory backend and in tests.
type MemoryUsers struct {
	mu     sync.Mutex
	seq    int64
	byName map[string]User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byName: make(map[string]User)}
}

func (s *MemoryUsers) Insert(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return User{}, fmt.Errorf("auth.MemoryUsers.Insert: %w", ErrUserExists)
	}
	s.seq++
	u.ID = strconv.FormatInt(s.seq, 10)
	s.byName[u.Username] = u
	return u, nil
}

func (s *MemoryUsers) ByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byName[username]
	if !ok {
		return User{}, fmt.Errorf("auth.MemoryUsers.ByUsername: %w", waitlist.ErrNotFound)
	}
	return u, nil
}
