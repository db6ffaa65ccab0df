package models

import (
	"sort"
	"sync/atomic"
)

// ModelStore provides thread-safe lookups of chat models.
type ModelStore interface {
	GetModel(key string) (ChatModel, bool)
	GetAllModels() []ChatModel
	SetModels(models []ChatModel) error
}

// InMemoryModelStore keeps an immutable snapshot of chat models keyed by
// model key. Reloads swap the whole snapshot atomically.
type InMemoryModelStore struct {
	data atomic.Pointer[map[string]ChatModel]
}

// NewInMemoryModelStore creates an empty model store.
func NewInMemoryModelStore() *InMemoryModelStore {
	s := &InMemoryModelStore{}
	empty := make(map[string]ChatModel)
	s.data.Store(&empty)
	return s
}

// GetModel returns the model registered under key.
func (s *InMemoryModelStore) GetModel(key string) (ChatModel, bool) {
	m, ok := (*s.data.Load())[key]
	return m, ok
}

// GetAllModels returns all models sorted by key.
func (s *InMemoryModelStore) GetAllModels() []ChatModel {
	data := *s.data.Load()
	out := make([]ChatModel, 0, len(data))
	for _, m := range data {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SetModels replaces the registered models. Entries without a key are
// rejected.
func (s *InMemoryModelStore) SetModels(models []ChatModel) error {
	next := make(map[string]ChatModel, len(models))
	for _, m := range models {
		if m.Key == "" {
			return ErrInvalidEntity
		}
		next[m.Key] = m
	}
	s.data.Store(&next)
	return nil
}
