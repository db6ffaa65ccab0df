package models

// NewTestAdDataStore creates a new in-memory ad data store for testing
func NewTestAdDataStore() AdDataStore {
	return NewInMemoryAdDataStore()
}

// NewTestModelStore creates a model store holding the given models.
func NewTestModelStore(models ...ChatModel) ModelStore {
	s := NewInMemoryModelStore()
	_ = s.SetModels(models)
	return s
}
