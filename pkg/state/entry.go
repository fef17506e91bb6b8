package state

// Entry is a single-participant view over a Store.
type Entry struct {
	store *Store
	key   string
}

func (e *Entry) Key() string { return e.key }

func (e *Entry) Get() Record { return e.store.Get(e.key) }

func (e *Entry) Set(p Patch) (Record, error) { return e.store.Set(e.key, p) }

func (e *Entry) Extend(field string, def interface{}) error {
	return e.store.Extend(e.key, field, def)
}

func (e *Entry) Field(field string, out interface{}) (bool, error) {
	return e.store.Field(e.key, field, out)
}

func (e *Entry) SetField(field string, v interface{}) error {
	return e.store.SetField(e.key, field, v)
}

// Clear forgets the record.
func (e *Entry) Clear() error { return e.store.Delete(e.key) }
