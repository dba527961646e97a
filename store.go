package antler

import "reflect"

// factStore is working memory: it owns every live fact handle and keeps a
// per-type index so the network can join new partial matches against
// existing facts without scanning the whole store.
//
// The store itself is passive bookkeeping. The session drives network
// propagation around every mutation, which is what keeps the agenda
// consistent with the store at every observable point.
//
// Not safe for concurrent use; the session's single-writer model applies.
type factStore struct {
	facts  map[FactID]*factHandle
	byType map[reflect.Type][]*factHandle
}

func newFactStore() *factStore {
	return &factStore{
		facts:  make(map[FactID]*factHandle),
		byType: make(map[reflect.Type][]*factHandle),
	}
}

// insert records a new fact and returns its handle. The identity is fresh
// and never reused.
func (s *factStore) insert(value any, recency int64) *factHandle {
	h := &factHandle{
		id:      nextFactID(),
		typ:     typeTag(value),
		value:   value,
		recency: recency,
	}
	s.facts[h.id] = h
	s.byType[h.typ] = append(s.byType[h.typ], h)
	return h
}

// remove deletes a live fact. Returns (nil, false) if the identity is
// dead or was never issued; a stale retract is a no-op, not an error.
func (s *factStore) remove(id FactID) (*factHandle, bool) {
	h, ok := s.facts[id]
	if !ok {
		return nil, false
	}
	delete(s.facts, id)

	// Filter in place, preserving insertion order. Deterministic iteration
	// order of the type index is what keeps join results reproducible.
	list := s.byType[h.typ]
	for i, f := range list {
		if f.id == id {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			s.byType[h.typ] = list[:len(list)-1]
			break
		}
	}
	if len(s.byType[h.typ]) == 0 {
		delete(s.byType, h.typ)
	}
	return h, true
}

// replace swaps the payload of a live fact, preserving its identity and
// bumping its recency. The caller has already checked the type tag.
func (s *factStore) replace(id FactID, value any, recency int64) (*factHandle, bool) {
	h, ok := s.facts[id]
	if !ok {
		return nil, false
	}
	h.value = value
	h.recency = recency
	return h, true
}

// touch bumps recency without swapping the payload (in-place mutation).
func (s *factStore) touch(id FactID, recency int64) (*factHandle, bool) {
	h, ok := s.facts[id]
	if !ok {
		return nil, false
	}
	h.recency = recency
	return h, true
}

// get returns a live fact handle.
func (s *factStore) get(id FactID) (*factHandle, bool) {
	h, ok := s.facts[id]
	return h, ok
}

// ofType returns the live facts carrying the given type tag, in assertion
// order. The returned slice is the store's own index: callers must not
// mutate it and must copy it before any store mutation can run.
func (s *factStore) ofType(t reflect.Type) []*factHandle {
	return s.byType[t]
}

// count returns the number of live facts.
func (s *factStore) count() int {
	return len(s.facts)
}

// clear drops every fact. Used by session disposal.
func (s *factStore) clear() {
	s.facts = make(map[FactID]*factHandle)
	s.byType = make(map[reflect.Type][]*factHandle)
}
