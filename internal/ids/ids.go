// Package ids generates monotonic message IDs and per-channel pts counters.
package ids

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tinode/snowflake"
)

// PtsLoader loads the current maximum pts committed for a channel, used to
// seed the in-process counter on first use after a restart.
type PtsLoader interface {
	MaxPts(ctx context.Context, channelID uint64) (uint64, error)
}

// Generator hands out globally unique message IDs and strictly increasing,
// gap-free per-channel pts values.
type Generator struct {
	node *snowflake.IdGenerator

	loader PtsLoader

	mu      sync.Mutex
	counter map[uint64]*uint64
}

// NewGenerator builds a Generator. workerID/datacenterID identify this
// process for the snowflake node ID space; loader seeds per-channel
// counters lazily from the message repository.
func NewGenerator(workerID, datacenterID int64, loader PtsLoader) (*Generator, error) {
	node, err := snowflake.NewIdGenerator(workerID, datacenterID)
	if err != nil {
		return nil, fmt.Errorf("ids: snowflake init: %w", err)
	}
	return &Generator{
		node:    node,
		loader:  loader,
		counter: make(map[uint64]*uint64),
	}, nil
}

// NextMessageID returns a new globally unique, roughly time-ordered message ID.
func (g *Generator) NextMessageID() (uint64, error) {
	id, err := g.node.Id()
	if err != nil {
		return 0, fmt.Errorf("ids: generate message id: %w", err)
	}
	return uint64(id), nil
}

// NextPts returns the next pts for channelID, strictly greater than every
// value previously returned for the same channel by this generator.
func (g *Generator) NextPts(ctx context.Context, channelID uint64) (uint64, error) {
	ctr, err := g.counterFor(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint64(ctr, 1), nil
}

// counterFor returns the atomic counter for channelID, seeding it from the
// repository on first access. The seed load happens under the generator's
// lock so concurrent first-accesses for the same channel don't race.
func (g *Generator) counterFor(ctx context.Context, channelID uint64) (*uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ctr, ok := g.counter[channelID]; ok {
		return ctr, nil
	}

	var seed uint64
	if g.loader != nil {
		max, err := g.loader.MaxPts(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("ids: seed pts for channel %d: %w", channelID, err)
		}
		seed = max
	}
	ctr := new(uint64)
	*ctr = seed
	g.counter[channelID] = ctr
	return ctr, nil
}
