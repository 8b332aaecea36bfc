package store

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	// Values maps namespace -> key -> value.
	Values map[string]map[string]string

	// SetError, if set, will be returned by Set.
	SetError error

	// RemoveError, if set, will be returned by Remove.
	RemoveError error

	// Writes counts successful Set and Remove calls.
	Writes int
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{Values: make(map[string]map[string]string)}
}

// Get returns the recorded value.
func (f *FakeStore) Get(namespace, key string) (string, bool) {
	v, ok := f.Values[namespace][key]
	return v, ok
}

// Set records the value.
func (f *FakeStore) Set(namespace, key, value string) error {
	if f.SetError != nil {
		return f.SetError
	}
	if namespace == "" || key == "" {
		return ErrInvalidKey
	}
	if f.Values[namespace] == nil {
		f.Values[namespace] = make(map[string]string)
	}
	f.Values[namespace][key] = value
	f.Writes++
	return nil
}

// Remove deletes the value.
func (f *FakeStore) Remove(namespace, key string) error {
	if f.RemoveError != nil {
		return f.RemoveError
	}
	if namespace == "" || key == "" {
		return ErrInvalidKey
	}
	delete(f.Values[namespace], key)
	f.Writes++
	return nil
}
