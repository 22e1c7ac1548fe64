package names

// Dict is a map keyed by Name under the partial-name equality rules.
// Because that equality is not transitive, entries cannot hash by value;
// instead they bucket by last name and lookups scan the bucket with Equal.
// A key whose synonym carries a different last name is filed under both
// last names so either spelling finds it.
//
// Dict preserves insertion order and is not safe for concurrent use.
type Dict[V any] struct {
	buckets map[string][]*dictEntry[V]
	entries []*dictEntry[V]
}

type dictEntry[V any] struct {
	key     *Name
	val     V
	deleted bool
}

// NewDict returns an empty Dict.
func NewDict[V any]() *Dict[V] {
	return &Dict[V]{buckets: make(map[string][]*dictEntry[V])}
}

func (d *Dict[V]) bucketNames(key *Name) []string {
	if syn := key.Synonym(); syn != nil && syn.Last() != key.Last() {
		return []string{key.Last(), syn.Last()}
	}
	return []string{key.Last()}
}

func (d *Dict[V]) find(key *Name) *dictEntry[V] {
	for _, last := range d.bucketNames(key) {
		for _, e := range d.buckets[last] {
			if !e.deleted && e.key.Equal(key) {
				return e
			}
		}
	}
	return nil
}

// Get returns the value stored under a key equal to key.
func (d *Dict[V]) Get(key *Name) (V, bool) {
	if e := d.find(key); e != nil {
		return e.val, true
	}
	var zero V
	return zero, false
}

// Contains reports whether any stored key equals key.
func (d *Dict[V]) Contains(key *Name) bool { return d.find(key) != nil }

// Set stores val under key. If an equal key is already present, its value
// is overwritten and the stored key is replaced by the new one, so the most
// recently seen form becomes the displayed form.
func (d *Dict[V]) Set(key *Name, val V) {
	if e := d.find(key); e != nil {
		e.key = key
		e.val = val
		// The new form may bucket under a last name the old one did not.
		for _, last := range d.bucketNames(key) {
			if !d.bucketHas(last, e) {
				d.buckets[last] = append(d.buckets[last], e)
			}
		}
		return
	}
	e := &dictEntry[V]{key: key, val: val}
	for _, last := range d.bucketNames(key) {
		d.buckets[last] = append(d.buckets[last], e)
	}
	d.entries = append(d.entries, e)
}

func (d *Dict[V]) bucketHas(last string, e *dictEntry[V]) bool {
	for _, b := range d.buckets[last] {
		if b == e {
			return true
		}
	}
	return false
}

// Delete removes the entry whose key equals key, if present.
func (d *Dict[V]) Delete(key *Name) {
	if e := d.find(key); e != nil {
		e.deleted = true
	}
}

// Len returns the number of distinct entries.
func (d *Dict[V]) Len() int {
	n := 0
	for _, e := range d.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Keys returns the stored keys in insertion order.
func (d *Dict[V]) Keys() []*Name {
	keys := make([]*Name, 0, len(d.entries))
	for _, e := range d.entries {
		if !e.deleted {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Values returns the stored values in insertion order.
func (d *Dict[V]) Values() []V {
	vals := make([]V, 0, len(d.entries))
	for _, e := range d.entries {
		if !e.deleted {
			vals = append(vals, e.val)
		}
	}
	return vals
}

// Set is a Dict with no values.
type Set struct {
	d *Dict[struct{}]
}

// NewSet returns an empty Set, optionally seeded with names.
func NewSet(ns ...*Name) *Set {
	s := &Set{d: NewDict[struct{}]()}
	for _, n := range ns {
		s.Add(n)
	}
	return s
}

// Add inserts name; an equal name already present is replaced by this form.
func (s *Set) Add(name *Name) { s.d.Set(name, struct{}{}) }

// Contains reports whether any member equals name.
func (s *Set) Contains(name *Name) bool { return s.d.Contains(name) }

// Len returns the number of distinct members.
func (s *Set) Len() int { return s.d.Len() }

// Names returns the members in insertion order.
func (s *Set) Names() []*Name { return s.d.Keys() }
