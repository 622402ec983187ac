// Package state provides the undo journal and lock boundary that make every
// public exchange call all-or-nothing.
package state

// Journal records undo closures for in-memory mutations. A snapshot marks a
// position in the log; reverting to it replays the undos recorded since, in
// reverse order. Mutations recorded outside any snapshot are not undoable.
type Journal struct {
	entries   []func()
	snapshots []int
}

func NewJournal() *Journal {
	return &Journal{}
}

// Active reports whether at least one snapshot is open.
func (j *Journal) Active() bool {
	return len(j.snapshots) > 0
}

// Record appends an undo step.
func (j *Journal) Record(undo func()) {
	if !j.Active() {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot opens a nested snapshot and returns its id.
func (j *Journal) Snapshot() int {
	j.snapshots = append(j.snapshots, len(j.entries))
	return len(j.snapshots) - 1
}

// RevertToSnapshot undoes everything recorded since snapshot id and closes it
// together with any snapshot opened after it.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id >= len(j.snapshots) {
		return
	}
	mark := j.snapshots[id]
	for i := len(j.entries) - 1; i >= mark; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:mark]
	j.snapshots = j.snapshots[:id]
}

// Commit closes snapshot id keeping its mutations. Once the outermost snapshot
// is committed the log is discarded.
func (j *Journal) Commit(id int) {
	if id < 0 || id >= len(j.snapshots) {
		return
	}
	j.snapshots = j.snapshots[:id]
	if len(j.snapshots) == 0 {
		j.entries = j.entries[:0]
	}
}

// Atomic runs fn inside a snapshot and reverts on error.
func (j *Journal) Atomic(fn func() error) error {
	id := j.Snapshot()
	if err := fn(); err != nil {
		j.RevertToSnapshot(id)
		return err
	}
	j.Commit(id)
	return nil
}

// Set writes m[k] = v and records the previous entry.
func Set[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, ok := m[k]
	j.Record(func() {
		if ok {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// Delete removes m[k] and records the previous entry.
func Delete[K comparable, V any](j *Journal, m map[K]V, k K) {
	prev, ok := m[k]
	if !ok {
		return
	}
	j.Record(func() { m[k] = prev })
	delete(m, k)
}

// Assign writes *p = v and records the previous value.
func Assign[V any](j *Journal, p *V, v V) {
	prev := *p
	j.Record(func() { *p = prev })
	*p = v
}

// Append appends v to *s and records the truncation.
func Append[V any](j *Journal, s *[]V, v V) {
	n := len(*s)
	j.Record(func() { *s = (*s)[:n] })
	*s = append(*s, v)
}
