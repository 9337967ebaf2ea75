package webhook

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// maxIDAttempts bounds id regeneration on collision.
const maxIDAttempts = 16

// Service is the webhook registry. Reads are served from an in-memory
// snapshot; every mutation writes the whole collection to the Store before
// the snapshot is swapped, so a failed save leaves the registry unchanged.
type Service struct {
	store  Store
	logger *slog.Logger

	// writeMu serializes mutations and reloads (single writer).
	writeMu sync.Mutex

	mu    sync.RWMutex
	hooks []Webhook

	now      func() time.Time
	newID    func() string
	newToken func() (string, error)
}

// NewService creates a webhook registry over store. Call Load before use.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		logger:   logger.With(slog.String("component", "webhook-registry")),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    generateID,
		newToken: generateToken,
	}
}

// Load reads the backing store into memory.
func (s *Service) Load(ctx context.Context) error {
	return s.Reload(ctx)
}

// Reload replaces the in-memory snapshot with the store's current content.
// Webhooks missing from the store stop resolving immediately.
func (s *Service) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	hooks, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading webhooks: %w", err)
	}
	for i := range hooks {
		normalize(&hooks[i])
	}

	s.mu.Lock()
	s.hooks = hooks
	s.mu.Unlock()

	s.logger.Debug("webhooks loaded", slog.Int("count", len(hooks)))
	return nil
}

// Lookup returns the webhook whose id and token both match. Any mismatch
// yields ErrNotFound. The token comparison runs in constant time and an
// unknown id still performs one comparison.
func (s *Service) Lookup(_ context.Context, id, token string) (*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *Webhook
	for i := range s.hooks {
		if s.hooks[i].ID == id {
			match = &s.hooks[i]
			break
		}
	}

	expected := dummyToken
	if match != nil {
		expected = []byte(match.Token)
	}
	tokenOK := subtle.ConstantTimeCompare(expected, []byte(token)) == 1
	if match == nil || !tokenOK || token == "" {
		return nil, ErrNotFound
	}

	w := clone(*match)
	return &w, nil
}

// Get returns a webhook by id. It is meant for the authenticated admin
// surface; trigger callers must go through Lookup.
func (s *Service) Get(_ context.Context, id string) (*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.hooks {
		if s.hooks[i].ID == id {
			w := clone(s.hooks[i])
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

// List returns all webhooks in creation order, tokens included. Callers must
// only expose the result to an authenticated admin.
func (s *Service) List(_ context.Context) ([]Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Webhook, len(s.hooks))
	for i := range s.hooks {
		out[i] = clone(s.hooks[i])
	}
	return out, nil
}

// Create validates w, assigns a fresh id, token and creation time, and
// persists it. Any id or token already set on w is discarded.
func (s *Service) Create(ctx context.Context, w *Webhook) error {
	normalize(w)
	if err := validate(w); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.snapshot()

	id, err := s.uniqueID(current)
	if err != nil {
		return err
	}
	token, err := s.newToken()
	if err != nil {
		return err
	}
	w.ID = id
	w.Token = token
	w.CreatedAt = s.now()

	next := append(slices.Clone(current), clone(*w))
	if err := s.store.Save(ctx, next); err != nil {
		return fmt.Errorf("saving webhooks: %w", err)
	}
	s.swap(next)

	s.logger.Info("webhook created",
		slog.String("id", w.ID),
		slog.String("name", w.Name),
		slog.Any("providers", w.Providers),
	)
	return nil
}

// Delete removes a webhook by id. Its trigger URL stops resolving as soon as
// Delete returns.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.snapshot()
	idx := slices.IndexFunc(current, func(w Webhook) bool { return w.ID == id })
	if idx < 0 {
		return ErrNotFound
	}

	next := slices.Delete(slices.Clone(current), idx, idx+1)
	if err := s.store.Save(ctx, next); err != nil {
		return fmt.Errorf("saving webhooks: %w", err)
	}
	s.swap(next)

	s.logger.Info("webhook deleted", slog.String("id", id))
	return nil
}

func (s *Service) snapshot() []Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hooks
}

func (s *Service) swap(next []Webhook) {
	s.mu.Lock()
	s.hooks = next
	s.mu.Unlock()
}

func (s *Service) uniqueID(current []Webhook) (string, error) {
	for range maxIDAttempts {
		id := s.newID()
		if !slices.ContainsFunc(current, func(w Webhook) bool { return w.ID == id }) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique webhook id after %d attempts", maxIDAttempts)
}

func clone(w Webhook) Webhook {
	w.Providers = slices.Clone(w.Providers)
	return w
}
