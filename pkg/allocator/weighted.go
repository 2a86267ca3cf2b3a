// Package allocator implements the weighted random draw used for blind-box
// destination allocation. It is pure: no I/O, randomness is injected, and
// ties break by list order so a fixed seed gives a deterministic outcome.
package allocator

import (
	"math/rand"

	"tripbook/pkg/utils"
)

// Entry one weighted outcome
type Entry struct {
	ID     uint64
	Weight int
}

// Allocator draws entries in proportion to their weights.
type Allocator struct {
	rng *rand.Rand
}

// New creates an allocator backed by the given randomness source.
func New(rng *rand.Rand) *Allocator {
	return &Allocator{rng: rng}
}

// Draw picks one entry id. The draw walks the list accumulating weights and
// returns the first entry whose cumulative sum exceeds a uniform point in
// [0, total). Zero-weight entries can never win; an empty list or an
// all-zero list is a configuration error.
func (a *Allocator) Draw(entries []Entry) (uint64, error) {
	total := 0
	for _, e := range entries {
		if e.Weight < 0 {
			return 0, utils.ErrInvalidWeights
		}
		total += e.Weight
	}
	if total <= 0 {
		return 0, utils.ErrInvalidWeights
	}

	r := a.rng.Intn(total)
	sum := 0
	for _, e := range entries {
		sum += e.Weight
		if r < sum {
			return e.ID, nil
		}
	}
	// Unreachable: r < total == final sum.
	return entries[len(entries)-1].ID, nil
}

// PickUniform chooses one id uniformly from a non-empty candidate list.
// Used when several active pools of the same box type are eligible.
func (a *Allocator) PickUniform(ids []uint64) (uint64, error) {
	if len(ids) == 0 {
		return 0, utils.ErrItemNotFound
	}
	return ids[a.rng.Intn(len(ids))], nil
}
