package tag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorFreshDistinct(t *testing.T) {
	a := NewAllocator()
	seen := make(map[Tag]struct{})
	for range 1000 {
		tg := a.Fresh()
		require.NotEqual(t, Zero, tg)
		_, dup := seen[tg]
		require.False(t, dup, "tag allocator issued a duplicate token")
		seen[tg] = struct{}{}
	}
}

type fakeSink struct {
	revalidated []Tag
}

func (f *fakeSink) Revalidate(t Tag) {
	f.revalidated = append(f.revalidated, t)
}

func TestRevalidateAllSkipsZero(t *testing.T) {
	sink := &fakeSink{}
	RevalidateAll(sink, Zero, Tag(7), Zero, Tag(9))
	require.Equal(t, []Tag{7, 9}, sink.revalidated)
}

func TestSetAddIgnoresZero(t *testing.T) {
	s := NewSet()
	s.Add(Zero)
	s.Add(Tag(3))
	require.Len(t, s, 1)
	_, ok := s[Tag(3)]
	require.True(t, ok)
}
