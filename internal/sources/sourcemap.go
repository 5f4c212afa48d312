package sources

import (
	"sync"
)

// SourceMap is the session-scoped, append-only arena of citable sources.
// Citation ids are 1-based positions that never shift: records are
// appended, never renumbered or overwritten. Appends are serialized so
// concurrent gap resolutions cannot collide on ids.
type SourceMap struct {
	mu      sync.RWMutex
	records []SourceRecord
}

// NewSourceMap returns an empty source map.
func NewSourceMap() *SourceMap {
	return &SourceMap{}
}

// Append assigns the next citation id to rec and stores it. The stored
// record (with id set) is returned.
func (m *SourceMap) Append(rec SourceRecord) SourceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = len(m.records) + 1
	m.records = append(m.records, rec)
	return rec
}

// AppendAll appends records in order and returns them with ids assigned.
func (m *SourceMap) AppendAll(recs []SourceRecord) []SourceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SourceRecord, 0, len(recs))
	for _, rec := range recs {
		rec.ID = len(m.records) + 1
		m.records = append(m.records, rec)
		out = append(out, rec)
	}
	return out
}

// Get returns the record for a citation id.
func (m *SourceMap) Get(id int) (SourceRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 1 || id > len(m.records) {
		return SourceRecord{}, false
	}
	return m.records[id-1], true
}

// Has reports whether a citation id exists.
func (m *SourceMap) Has(id int) bool {
	_, ok := m.Get(id)
	return ok
}

// Len returns the number of records. It is non-decreasing for the life
// of a session.
func (m *SourceMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Records returns a copy of all records in id order.
func (m *SourceMap) Records() []SourceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SourceRecord, len(m.records))
	copy(out, m.records)
	return out
}

// IDs returns every assigned citation id in order.
func (m *SourceMap) IDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, len(m.records))
	for i := range m.records {
		ids[i] = i + 1
	}
	return ids
}
