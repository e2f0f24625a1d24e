package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// BlobStore keeps blobs keyed by their sha256
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	puts  int
}

// NewBlobStore creates an empty blob store
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (s *BlobStore) Put(ctx context.Context, data []byte) (*entities.BlobRef, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = append([]byte(nil), data...)
		s.puts++
	}
	return &entities.BlobRef{Key: hash, Hash: hash, Size: int64(len(data))}, nil
}

func (s *BlobStore) Get(ctx context.Context, ref *entities.BlobRef) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref.Key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", entities.ErrNotFound, ref.Key)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of distinct blobs stored
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// ExternalStore keeps external payloads under content-addressed handles
type ExternalStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewExternalStore creates an empty external store
func NewExternalStore() *ExternalStore {
	return &ExternalStore{objects: make(map[string][]byte)}
}

func (s *ExternalStore) Put(ctx context.Context, kind entities.LinkKind, payload []byte) (string, error) {
	handle := repositories.ExternalHandle(kind, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[handle] = append([]byte(nil), payload...)
	return handle, nil
}

func (s *ExternalStore) Get(ctx context.Context, handle string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrExternalAbsent, handle)
	}
	return append([]byte(nil), data...), nil
}

func (s *ExternalStore) Exists(ctx context.Context, handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[handle]
	return ok, nil
}

func (s *ExternalStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, handle)
	return nil
}

// Notifier collects notifications
type Notifier struct {
	mu   sync.Mutex
	sent []*repositories.Notification
}

func (n *Notifier) Notify(ctx context.Context, note *repositories.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

// Sent returns the notifications received so far
func (n *Notifier) Sent() []*repositories.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*repositories.Notification(nil), n.sent...)
}

var (
	_ repositories.Store         = (*Store)(nil)
	_ repositories.BlobStore     = (*BlobStore)(nil)
	_ repositories.ExternalStore = (*ExternalStore)(nil)
	_ repositories.Notifier      = (*Notifier)(nil)
)
