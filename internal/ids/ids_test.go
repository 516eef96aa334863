package ids

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLoader struct{ max uint64 }

func (f fakeLoader) MaxPts(ctx context.Context, channelID uint64) (uint64, error) {
	return f.max, nil
}

func TestNextPtsMonotonicAndGapFree(t *testing.T) {
	g, err := NewGenerator(1, 1, fakeLoader{max: 0})
	require.NoError(t, err)

	ctx := context.Background()
	var prev uint64
	for i := 0; i < 100; i++ {
		pts, err := g.NextPts(ctx, 42)
		require.NoError(t, err)
		require.Equal(t, prev+1, pts)
		prev = pts
	}
}

func TestNextPtsSeedsFromLoader(t *testing.T) {
	g, err := NewGenerator(1, 1, fakeLoader{max: 50})
	require.NoError(t, err)

	pts, err := g.NextPts(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, uint64(51), pts)
}

func TestNextPtsPerChannelIndependent(t *testing.T) {
	g, err := NewGenerator(1, 1, fakeLoader{})
	require.NoError(t, err)

	ctx := context.Background()
	p1, _ := g.NextPts(ctx, 1)
	p2, _ := g.NextPts(ctx, 2)
	require.Equal(t, uint64(1), p1)
	require.Equal(t, uint64(1), p2)
}

func TestNextPtsConcurrentSerializesPerChannel(t *testing.T) {
	g, err := NewGenerator(1, 1, fakeLoader{})
	require.NoError(t, err)

	ctx := context.Background()
	const n = 200
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pts, err := g.NextPts(ctx, 99)
			require.NoError(t, err)
			seen <- pts
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for pts := range seen {
		require.False(t, unique[pts], "duplicate pts %d", pts)
		unique[pts] = true
	}
	require.Len(t, unique, n)
}

func TestNextMessageIDUnique(t *testing.T) {
	g, err := NewGenerator(1, 1, nil)
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		id, err := g.NextMessageID()
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}
