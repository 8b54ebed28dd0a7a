package adapters

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/namespace"
)

func TestChaos_DisabledIsTransparent(t *testing.T) {
	c := NewChaos(NewMemory(), ChaosConfig{Seed: 1, ErrorRate: 1.0, InterruptRate: 1.0})
	ctx := context.Background()

	id, err := c.Create(ctx, tag, namespace.RootID, "dir", namespace.Directory)
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, tag, id))
	assert.Equal(t, ChaosStats{}, c.Stats())
}

func TestChaos_FaultNeverReachesBackend(t *testing.T) {
	m := NewMemory()
	c := NewChaos(m, ChaosConfig{Seed: 42, ErrorRate: 1.0})
	c.Enable()
	ctx := context.Background()

	before := m.Len()
	for i := 0; i < 20; i++ {
		_, err := c.Create(ctx, tag, namespace.RootID, "never", namespace.Regular)
		require.Error(t, err)

		var inj *InjectedError
		require.ErrorAs(t, err, &inj)
		assert.Equal(t, "create", inj.Op)
		var errno syscall.Errno
		assert.ErrorAs(t, err, &errno)
	}
	// backend was never touched, so model and backend still agree
	assert.Equal(t, before, m.Len())
	assert.EqualValues(t, 20, c.Stats().Faults)
}

func TestChaos_InterruptDiscardsSuccessfulOutcome(t *testing.T) {
	m := NewMemory()
	c := NewChaos(m, ChaosConfig{Seed: 7, InterruptRate: 1.0})
	c.Enable()
	ctx := context.Background()

	id, err := c.Create(ctx, tag, namespace.RootID, "ghost", namespace.Regular)
	assert.Equal(t, namespace.NoID, id)
	require.ErrorIs(t, err, fsracer.ErrInterrupted)

	// the inner call ran: the entry exists but the caller never learned its id
	gid, typ, err := c.Lookup(ctx, namespace.RootID, "ghost")
	require.NoError(t, err)
	assert.NotEqual(t, namespace.NoID, gid)
	assert.Equal(t, namespace.Regular, typ)
	assert.EqualValues(t, 1, c.Stats().Interrupts)
}

func TestChaos_InterruptNotReportedOnRealFailure(t *testing.T) {
	c := NewChaos(NewMemory(), ChaosConfig{Seed: 7, InterruptRate: 1.0})
	c.Enable()
	ctx := context.Background()

	// the inner call fails on its own; that error must win over the interrupt
	err := c.Remove(ctx, tag, namespace.EntryID(12345))
	require.Error(t, err)
	assert.False(t, errors.Is(err, fsracer.ErrInterrupted))
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestChaos_Deterministic(t *testing.T) {
	run := func() []bool {
		c := NewChaos(NewMemory(), ChaosConfig{Seed: 99, ErrorRate: 0.5})
		c.Enable()
		ctx := context.Background()
		outcomes := make([]bool, 0, 50)
		for i := 0; i < 50; i++ {
			err := c.Remove(ctx, tag, namespace.EntryID(1000+i))
			var inj *InjectedError
			outcomes = append(outcomes, errors.As(err, &inj))
		}
		return outcomes
	}
	assert.Equal(t, run(), run())
}

func TestChaos_DelayCounted(t *testing.T) {
	c := NewChaos(NewMemory(), ChaosConfig{Seed: 3, DelayRate: 1.0, MaxDelay: time.Millisecond})
	c.Enable()
	ctx := context.Background()

	_, err := c.Create(ctx, tag, namespace.RootID, "slow", namespace.Regular)
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Stats().Delays)
}
