package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore is an in-process object store for tests and local development.
// URLs take the form baseURL + "/" + path.
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]memoryObject
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "https://objects.invalid"
	}
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStore) Put(_ context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	key := normalizeKey(path)
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = memoryObject{data: buf, contentType: contentType, modified: time.Now()}
	s.mu.Unlock()

	url := s.baseURL + "/" + key
	return &PutResult{URL: url, DownloadURL: url}, nil
}

func (s *MemoryStore) Delete(_ context.Context, rawURL string) error {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return nil
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Object, error) {
	prefix = normalizeKey(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Object
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{URL: s.baseURL + "/" + key, Path: key})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryStore) Head(_ context.Context, rawURL string) (*Metadata, error) {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return nil, ErrObjectNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, found := s.objects[key]
	if !found {
		return nil, ErrObjectNotFound
	}
	return &Metadata{
		ContentType:  obj.contentType,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
	}, nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *MemoryStore) keyFromURL(rawURL string) (string, bool) {
	trimmed := strings.TrimSpace(rawURL)
	if !strings.HasPrefix(trimmed, s.baseURL+"/") {
		return "", false
	}
	key := strings.TrimPrefix(trimmed, s.baseURL+"/")
	if idx := strings.IndexAny(key, "?#"); idx >= 0 {
		key = key[:idx]
	}
	return normalizeKey(key), true
}
