package antler

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thing struct {
	Name string
}

type widget struct {
	Size int
}

func TestFactStore_InsertAndGet(t *testing.T) {
	s := newFactStore()

	h := s.insert(&thing{Name: "a"}, 1)
	require.NotZero(t, h.id)

	got, ok := s.get(h.id)
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.Equal(t, 1, s.count())
}

func TestFactStore_IdentityNeverReused(t *testing.T) {
	s := newFactStore()

	h1 := s.insert(&thing{Name: "a"}, 1)
	_, ok := s.remove(h1.id)
	require.True(t, ok)

	h2 := s.insert(&thing{Name: "b"}, 2)
	assert.NotEqual(t, h1.id, h2.id, "identities must never be reused")
	assert.Greater(t, uint64(h2.id), uint64(h1.id), "identities are monotonic")
}

func TestFactStore_RemoveDeadIdentity(t *testing.T) {
	s := newFactStore()

	h := s.insert(&thing{Name: "a"}, 1)
	_, ok := s.remove(h.id)
	require.True(t, ok)

	// Second removal is a no-op, not an error.
	_, ok = s.remove(h.id)
	assert.False(t, ok)

	_, ok = s.remove(FactID(99999))
	assert.False(t, ok, "never-issued identity")
}

func TestFactStore_TypeIndexOrder(t *testing.T) {
	s := newFactStore()

	a := s.insert(&thing{Name: "a"}, 1)
	s.insert(&widget{Size: 1}, 2)
	b := s.insert(&thing{Name: "b"}, 3)
	c := s.insert(&thing{Name: "c"}, 4)

	typ := reflect.TypeOf((*thing)(nil))
	list := s.ofType(typ)
	require.Len(t, list, 3)
	assert.Equal(t, a.id, list[0].id)
	assert.Equal(t, b.id, list[1].id)
	assert.Equal(t, c.id, list[2].id)

	// Removal preserves assertion order of the remainder.
	_, ok := s.remove(b.id)
	require.True(t, ok)
	list = s.ofType(typ)
	require.Len(t, list, 2)
	assert.Equal(t, a.id, list[0].id)
	assert.Equal(t, c.id, list[1].id)
}

func TestFactStore_ReplacePreservesIdentity(t *testing.T) {
	s := newFactStore()

	h := s.insert(&thing{Name: "old"}, 1)
	got, ok := s.replace(h.id, &thing{Name: "new"}, 2)
	require.True(t, ok)

	assert.Equal(t, h.id, got.id)
	assert.Equal(t, "new", got.value.(*thing).Name)
	assert.Equal(t, int64(2), got.recency)

	_, ok = s.replace(FactID(424242), &thing{}, 3)
	assert.False(t, ok)
}

func TestFactStore_Clear(t *testing.T) {
	s := newFactStore()
	s.insert(&thing{Name: "a"}, 1)
	s.insert(&widget{Size: 2}, 2)

	s.clear()
	assert.Equal(t, 0, s.count())
	assert.Empty(t, s.ofType(reflect.TypeOf((*thing)(nil))))
}
