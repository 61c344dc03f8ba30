// Package blacklist maintains the curated registry of known-bad subjects.
//
// Entries come from two places: operator action through the admin API, and
// automatic promotion when community reports against a subject are verified
// by moderators. A listed subject is an absolute verdict for the risk
// models, so writes are deliberately boring: no fuzzy matching, no expiry,
// explicit removal only.
package blacklist

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Entry sources.
const (
	SourceAdmin     = "admin"
	SourceCommunity = "community"
)

// ErrNotFound indicates the subject is not listed.
var ErrNotFound = errors.New("blacklist: entry not found")

// ErrExists indicates the subject is already listed.
var ErrExists = errors.New("blacklist: entry already exists")

// Entry is one blacklisted subject. Subject is an account ID, a contract
// ID, or an asset in code:issuer form.
type Entry struct {
	Subject string    `json:"subject"`
	Reason  string    `json:"reason"`
	Source  string    `json:"source"`
	AddedBy string    `json:"addedBy,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// Store persists blacklist entries.
type Store interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, subject string) (*Entry, error)
	Delete(ctx context.Context, subject string) error
	List(ctx context.Context, limit, offset int) ([]*Entry, error)
}

// Service wraps a Store with input normalization.
type Service struct {
	store Store
}

// NewService creates a blacklist service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Add lists a subject. Fails with ErrExists when already listed.
func (s *Service) Add(ctx context.Context, subject, reason, source, addedBy string) (*Entry, error) {
	subject = normalize(subject)
	if subject == "" {
		return nil, errors.New("blacklist: empty subject")
	}
	if existing, err := s.store.Get(ctx, subject); err == nil && existing != nil {
		return nil, ErrExists
	}

	entry := &Entry{
		Subject: subject,
		Reason:  reason,
		Source:  source,
		AddedBy: addedBy,
		AddedAt: time.Now(),
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove delists a subject.
func (s *Service) Remove(ctx context.Context, subject string) error {
	return s.store.Delete(ctx, normalize(subject))
}

// Lookup returns the entry for a subject, or (nil, nil) when not listed.
// The nil-for-absent contract matches what the risk engine expects from a
// signal provider: absence is data, not an error.
func (s *Service) Lookup(ctx context.Context, subject string) (*Entry, error) {
	entry, err := s.store.Get(ctx, normalize(subject))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns entries for the admin UI, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// normalize trims whitespace and uppercases bare account and contract IDs,
// which are canonically uppercase. Asset codes stay as-is: they are
// case-sensitive on the ledger.
func normalize(subject string) string {
	subject = strings.TrimSpace(subject)
	if len(subject) == 56 && !strings.Contains(subject, ":") {
		return strings.ToUpper(subject)
	}
	return subject
}
