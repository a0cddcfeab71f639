// Package sealed encrypts party contact details before they reach storage.
package sealed

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const prefix = "gcm1:"

var ErrCiphertext = errors.New("sealed: malformed ciphertext")

// Store wraps a waitlist.Store and seals Entry.Contact with AES-GCM. Values
// written before sealing was enabled are returned as they are.
type Store struct {
	waitlist.Store
	aead cipher.AEAD
}

// New needs a 16, 24 or 32 byte key.
func New(inner waitlist.Store, key []byte) (*Store, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed.New: %w", err)
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed.New: %w", err)
	}
	return &Store{Store: inner, aead: a}, nil
}

func (s *Store) seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawStdEncoding.EncodeToString(buf), nil
}

func (s *Store) open(v string) (string, error) {
	if !strings.HasPrefix(v, prefix) {
		return v, nil
	}
	buf, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(v, prefix))
	if err != nil {
		return "", ErrCiphertext
	}
	ns := s.aead.NonceSize()
	if len(buf) < ns {
		return "", ErrCiphertext
	}
	pt, err := s.aead.Open(nil, buf[:ns], buf[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(pt), nil
}

func (s *Store) reveal(e waitlist.Entry, err error) (waitlist.Entry, error) {
	if err != nil {
		return e, err
	}
	if e.Contact, err = s.open(e.Contact); err != nil {
		return waitlist.Entry{}, err
	}
	return e, nil
}

func (s *Store) revealAll(es []waitlist.Entry, err error) ([]waitlist.Entry, error) {
	if err != nil {
		return nil, err
	}
	for i := range es {
		if es[i].Contact, err = s.open(es[i].Contact); err != nil {
			return nil, err
		}
	}
	return es, nil
}

func (s *Store) Create(ctx context.Context, e waitlist.Entry) (waitlist.Entry, error) {
	plain := e.Contact
	sealedContact, err := s.seal(plain)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("sealed.Create: %w", err)
	}
	e.Contact = sealedContact
	created, err := s.Store.Create(ctx, e)
	if err != nil {
		return created, err
	}
	created.Contact = plain
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (waitlist.Entry, error) {
	return s.reveal(s.Store.Get(ctx, id))
}

func (s *Store) ListActive(ctx context.Context, key waitlist.SlotKey) ([]waitlist.Entry, error) {
	return s.revealAll(s.Store.ListActive(ctx, key))
}

func (s *Store) UpdateStatus(ctx context.Context, id string, to waitlist.Status, at time.Time) (waitlist.Entry, waitlist.Status, error) {
	e, prev, err := s.Store.UpdateStatus(ctx, id, to, at)
	if err != nil {
		return e, prev, err
	}
	e, err = s.reveal(e, nil)
	return e, prev, err
}

func (s *Store) MarkDeparted(ctx context.Context, id string, at time.Time) (waitlist.Entry, error) {
	return s.reveal(s.Store.MarkDeparted(ctx, id, at))
}

func (s *Store) ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]waitlist.Entry, error) {
	return s.revealAll(s.Store.ListNotifiedBefore(ctx, cutoff))
}
