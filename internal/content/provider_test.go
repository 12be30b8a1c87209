package content

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SameSeedSameDraws(t *testing.T) {
	a := New(42)
	b := New(42)

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.FirstName(), b.FirstName())
		assert.Equal(t, a.IntRange(10000, 999999), b.IntRange(10000, 999999))
		assert.Equal(t, a.Sentence(), b.Sentence())
	}
}

func TestNew_ZeroSeedIsRandomised(t *testing.T) {
	p := New(0)
	assert.NotZero(t, p.Seed())
}

func TestHandle(t *testing.T) {
	p := New(1)
	assert.Equal(t, "Ada@example.com", p.Handle("Ada"))
}

func TestSentence_NotEmpty(t *testing.T) {
	p := New(7)
	for i := 0; i < 10; i++ {
		s := p.Sentence()
		assert.NotEmpty(t, strings.TrimSpace(s))
	}
	assert.Len(t, p.Sentences(3), 3)
}

func TestIntRange_Inclusive(t *testing.T) {
	p := New(3)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		n := p.IntRange(1, 5)
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, 5)
		seen[n] = true
	}
	assert.Len(t, seen, 5, "every value in [1,5] should appear")
}

func TestIntRange_Degenerate(t *testing.T) {
	p := New(3)
	assert.Equal(t, 9, p.IntRange(9, 9))
	assert.Equal(t, 9, p.IntRange(9, 2))
}

func TestShuffle_IsPermutation(t *testing.T) {
	p := New(11)
	in := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	s := append([]int(nil), in...)

	Shuffle(p, s)

	require.Len(t, s, len(in))
	sorted := append([]int(nil), s...)
	sort.Ints(sorted)
	assert.Equal(t, in, sorted)
}

func TestPacer_DelayWithinBounds(t *testing.T) {
	pc := NewPacer(New(5), 10*time.Millisecond, 1000*time.Millisecond)
	for i := 0; i < 1000; i++ {
		d := pc.Delay()
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 1000*time.Millisecond)
		require.Zero(t, d%time.Millisecond)
	}
}

func TestProvider_ConcurrentUse(t *testing.T) {
	p := New(99)
	pc := NewPacer(p, time.Millisecond, 5*time.Millisecond)

	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = p.FirstName()
				_ = p.IntRange(0, 100)
				_ = pc.Delay()
			}
		}()
	}
	wg.Wait()
}
