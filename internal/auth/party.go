package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "bytenosh"

	DefaultPartyTokenTTL = 6 * time.Hour
)

// PartyTokens signs the bearer tokens a party gets back from join. The
// subject is the entry id, so a token grants access to that entry only.
type PartyTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewPartyTokens(secret []byte, ttl time.Duration) *PartyTokens {
	if ttl <= 0 {
		ttl = DefaultPartyTokenTTL
	}
	return &PartyTokens{secret: secret, ttl: ttl, now: time.Now}
}

func (p *PartyTokens) Issue(entryID string) (string, time.Time, error) {
	const op = "auth.PartyTokens.Issue"

	now := p.now()
	exp := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   entryID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return signed, exp, nil
}

// Parse verifies the token and returns the entry id it was issued for.
func (p *PartyTokens) Parse(token string) (string, error) {
	const op = "auth.PartyTokens.Parse"

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%s: missing subject", op)
	}
	return claims.Subject, nil
}
