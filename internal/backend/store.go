package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("item not found")
	ErrAlreadyExists = errors.New("item already exists")
)

// Store is a thread-safe item store. When created with a file path every
// mutation is written through to that file as JSON.
type Store struct {
	mu    sync.RWMutex
	items map[string]Item
	path  string
}

// NewStore creates a store. An empty path keeps items in memory only;
// otherwise existing items are loaded from path, which may not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{
		items: make(map[string]Item),
		path:  path,
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load store %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.items)
}

// save must be called with mu held.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Create adds a new item.
func (s *Store) Create(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return ErrAlreadyExists
	}
	s.items[item.ID] = item
	return s.save()
}

// Get retrieves an item by ID.
func (s *Store) Get(id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return Item{}, ErrNotFound
	}
	return item, nil
}

// List returns all items ordered by creation time.
func (s *Store) List() []Item {
	s.mu.RLock()
	items := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Update replaces an existing item.
func (s *Store) Update(id string, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ErrNotFound
	}
	s.items[id] = item
	return s.save()
}

// Delete removes an item by ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ErrNotFound
	}
	delete(s.items, id)
	return s.save()
}
