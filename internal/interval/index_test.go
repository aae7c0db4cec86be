package interval

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2026, 11, d, 10, 0, 0, 0, time.UTC)
}

func TestIndex_InsertAndOverlaps(t *testing.T) {
	idx := NewIndex()
	idx.Insert("r1", "a", day(19), day(20))

	t.Run("OverlappingRange", func(t *testing.T) {
		// [Nov 19 18:00, Nov 21 10:00) intersects [Nov 19 10:00, Nov 20 10:00).
		assert.Equal(t, 1, idx.Overlaps("r1", day(19).Add(8*time.Hour), day(21)))
	})

	t.Run("AdjacentRange", func(t *testing.T) {
		// Half-open: a stay starting exactly at checkout does not conflict.
		assert.Equal(t, 0, idx.Overlaps("r1", day(20), day(21)))
	})

	t.Run("OtherResource", func(t *testing.T) {
		assert.Equal(t, 0, idx.Overlaps("r2", day(19), day(20)))
	})
}

func TestIndex_Overlapping_Order(t *testing.T) {
	idx := NewIndex()
	idx.Insert("r1", "late", day(25), day(27))
	idx.Insert("r1", "early", day(19), day(21))
	idx.Insert("r1", "mid", day(22), day(24))

	ids := idx.Overlapping("r1", day(18), day(28))
	assert.Equal(t, []string{"early", "mid", "late"}, ids)
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex()
	idx.Insert("r1", "a", day(19), day(20))

	assert.True(t, idx.Remove("r1", "a"))
	assert.False(t, idx.Remove("r1", "a"))
	assert.Equal(t, 0, idx.Overlaps("r1", day(19), day(20)))
}

func TestIndex_InsertReplacesSameReservation(t *testing.T) {
	idx := NewIndex()
	idx.Insert("r1", "a", day(19), day(20))
	idx.Insert("r1", "a", day(21), day(22))

	assert.Equal(t, 1, idx.Size())
	assert.Equal(t, 0, idx.Overlaps("r1", day(19), day(20)))
	assert.Equal(t, 1, idx.Overlaps("r1", day(21), day(22)))
}

func TestIndex_PruneBefore(t *testing.T) {
	idx := NewIndex()
	idx.Insert("r1", "past", day(1), day(2))
	idx.Insert("r1", "future", day(25), day(26))
	idx.Insert("r2", "past2", day(3), day(4))

	pruned := idx.PruneBefore(day(10))
	assert.Equal(t, 2, pruned)
	assert.Equal(t, 1, idx.Size())
	assert.Equal(t, 1, idx.Overlaps("r1", day(25), day(26)))
}

func TestIndex_ConcurrentReadsAndWrites(t *testing.T) {
	idx := NewIndex()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("res-%d", i)
			idx.Insert("r1", id, day(1).Add(time.Duration(i)*time.Hour), day(1).Add(time.Duration(i+1)*time.Hour))
			idx.Overlaps("r1", day(1), day(5))
		}(i)
	}
	wg.Wait()

	require.Equal(t, 50, idx.Size())
}
