package antler

import (
	"reflect"
	"sync/atomic"
)

// FactID is the process-unique identity of a fact in working memory.
//
// IDs are assigned monotonically and never reused. After retraction the
// identity is dead: any reference to it is stale, and Retract/Modify on a
// dead identity report false rather than failing.
type FactID uint64

var factIDCounter atomic.Uint64

// nextFactID allocates a fresh identity. Process-global so identities are
// unique across all sessions, not just within one.
func nextFactID() FactID {
	return FactID(factIDCounter.Add(1))
}

// factHandle wraps a fact payload with the metadata the engine needs:
// identity, type tag, and a recency stamp for diagnostics and tracing.
//
// The payload is opaque to the engine. The network only ever consults the
// type tag and hands the payload to condition predicates; it never
// interprets the value itself.
type factHandle struct {
	id      FactID
	typ     reflect.Type
	value   any
	recency int64
}

// TypeTag returns the engine's type tag for an asserted payload.
//
// Facts are asserted as non-nil pointers (e.g. *Message); the tag is the
// payload's dynamic type, which is what Type[T] patterns register against.
func typeTag(value any) reflect.Type {
	return reflect.TypeOf(value)
}

// validFactValue reports whether a payload may enter working memory.
// The engine requires a non-nil pointer so Mutate can update in place and
// so actions observe the same instance the store owns.
func validFactValue(value any) bool {
	if value == nil {
		return false
	}
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}
