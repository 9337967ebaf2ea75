package webhook

import (
	"context"
	"sync"

	"github.com/sydlexius/pushhook/internal/filesystem"
)

// Store persists the full webhook collection. Save replaces the stored
// collection as a whole.
type Store interface {
	Load(ctx context.Context) ([]Webhook, error)
	Save(ctx context.Context, hooks []Webhook) error
}

// document is the on-disk JSON layout shared with earlier releases.
type document struct {
	Webhooks []Webhook `json:"webhooks"`
}

// JSONStore keeps webhooks in a single JSON document that is atomically
// replaced on every save.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore creates a store backed by the file at path. The file is
// created on first save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file path.
func (s *JSONStore) Path() string { return s.path }

// Load reads the document. A missing or empty file yields an empty
// collection; a corrupt file is an error so it is never silently overwritten.
func (s *JSONStore) Load(_ context.Context) ([]Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc document
	if _, err := filesystem.ReadJSON(s.path, &doc); err != nil {
		return nil, err
	}
	if doc.Webhooks == nil {
		doc.Webhooks = []Webhook{}
	}
	return doc.Webhooks, nil
}

// Save writes the document via temp file and rename.
func (s *JSONStore) Save(_ context.Context, hooks []Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hooks == nil {
		hooks = []Webhook{}
	}
	return filesystem.WriteJSON(s.path, document{Webhooks: hooks}, 0o600)
}
