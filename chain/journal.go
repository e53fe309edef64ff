package chain

// Journal records undo operations for every state change made while a request executes.
// Reverting to a snapshot replays the undo operations recorded after it in reverse order.
//
// A nil *Journal is valid and records nothing, so state types can be exercised outside a chain.
type Journal struct {
	entries []func()
}

// NewJournal returns an empty journal
func NewJournal() *Journal {
	return &Journal{}
}

// Append registers an undo operation
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position
func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// RevertTo undoes every change recorded after the snapshot
func (j *Journal) RevertTo(snapshot int) {
	if j == nil {
		return
	}
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:snapshot]
}

// Reset commits all recorded changes
func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.entries = j.entries[:0]
}

// Length is the number of undo operations recorded
func (j *Journal) Length() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// Assign sets *p to v and records the previous value
func Assign[T any](j *Journal, p *T, v T) {
	prev := *p
	j.Append(func() { *p = prev })
	*p = v
}

// Put stores m[k] = v and records the previous entry, or its absence
func Put[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	j.Append(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// Push appends v to *s and records the previous length
func Push[T any](j *Journal, s *[]T, v T) {
	n := len(*s)
	j.Append(func() { *s = (*s)[:n] })
	*s = append(*s, v)
}
