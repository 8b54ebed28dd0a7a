package workload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfile_PickRespectsWeights(t *testing.T) {
	var p Profile
	p.Set(OpCreate, 1)
	p.Set(OpRemove, 1)

	rng := rand.New(rand.NewSource(1))
	counts := make(map[OpKind]int)
	for i := 0; i < 10000; i++ {
		counts[p.Pick(rng)]++
	}
	assert.Len(t, counts, 2)
	assert.InDelta(t, 5000, counts[OpCreate], 500)
	assert.InDelta(t, 5000, counts[OpRemove], 500)
}

func TestProfile_DisableRemovesKind(t *testing.T) {
	p := DefaultProfile()
	p.Disable(OpWhiteout)
	p.Disable(OpExchange)
	assert.Zero(t, p.Weight(OpWhiteout))
	assert.Zero(t, p.Weight(OpExchange))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		k := p.Pick(rng)
		assert.NotEqual(t, OpWhiteout, k)
		assert.NotEqual(t, OpExchange, k)
	}
}

func TestProfile_SetReplacesWeight(t *testing.T) {
	p := DefaultProfile()
	p.Set(OpCreate, 100)
	assert.Equal(t, 100, p.Weight(OpCreate))

	// out-of-range kinds and negative weights are ignored
	p.Set(numOps, 5)
	p.Set(OpCreate, -1)
	assert.Equal(t, 100, p.Weight(OpCreate))
}

func TestProfile_PickDeterministic(t *testing.T) {
	p := DefaultProfile()
	draw := func(seed int64) []OpKind {
		rng := rand.New(rand.NewSource(seed))
		out := make([]OpKind, 100)
		for i := range out {
			out[i] = p.Pick(rng)
		}
		return out
	}
	assert.Equal(t, draw(42), draw(42))
}

func TestProfile_ZeroValuePicksCreate(t *testing.T) {
	var p Profile
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, OpCreate, p.Pick(rng))
}
