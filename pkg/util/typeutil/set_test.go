package typeutil

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOps(t *testing.T) {
	a := NewSet("flex.messaging.io.ArrayCollection", "Object")
	b := NewSet("Object", "com.example.Order")

	assert.True(t, a.Contain("Object"))
	assert.False(t, a.Contain("Object", "com.example.Order"))
	assert.Equal(t, 1, a.Intersection(b).Len())
	assert.Equal(t, 3, a.Union(b).Len())

	diff := a.Complement(b).Collect()
	assert.Equal(t, []string{"flex.messaging.io.ArrayCollection"}, diff)

	c := a.Clone()
	c.Remove("Object")
	assert.True(t, a.Contain("Object"))
	assert.False(t, c.Contain("Object"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSetRangeStops(t *testing.T) {
	s := NewSet(1, 2, 3, 4)
	n := 0
	s.Range(func(int) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestConcurrentSet(t *testing.T) {
	s := NewConcurrentSet[string]()
	assert.True(t, s.Insert("a"))
	assert.False(t, s.Insert("a"))
	s.Upsert("b", "c")
	assert.True(t, s.Contain("a", "b", "c"))

	assert.True(t, s.TryRemove("a"))
	assert.False(t, s.TryRemove("a"))

	got := s.Collect()
	sort.Strings(got)
	assert.Equal(t, []string{"b", "c"}, got)
}
