package telemetry

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_TicksPushOnePerChannel(t *testing.T) {
	buf := NewBuffer(0)
	gen := NewGenerator(buf, WithRand(rand.New(rand.NewSource(1))))

	for tick := 1; tick <= 5; tick++ {
		gen.Tick()

		for _, ch := range AccelChannels {
			snap, err := buf.Snapshot(ch)
			require.NoError(t, err)
			require.Len(t, snap, tick, "channel %s after tick %d", ch, tick)

			last := snap[len(snap)-1]
			assert.Equal(t, float64(tick-1), last.X, "sequence index")
			assert.GreaterOrEqual(t, last.Value, 0.0)
			assert.LessOrEqual(t, last.Value, GeneratorMax)
		}
		assert.Equal(t, 0, buf.Len(ChannelForce), "force is not driven by default")
	}
	assert.Equal(t, 5.0, gen.Counter())
}

func TestGenerator_WithChannels(t *testing.T) {
	buf := NewBuffer(0)
	gen := NewGenerator(buf, WithChannels(ChannelForce))
	gen.Tick()

	assert.Equal(t, 1, buf.Len(ChannelForce))
	assert.Equal(t, 0, buf.Len(ChannelX))
}

func TestGenerator_StopHaltsTicks(t *testing.T) {
	buf := NewBuffer(0)
	gen := NewGenerator(buf, WithInterval(5*time.Millisecond))

	gen.Start(context.Background())
	require.True(t, gen.Running())

	require.Eventually(t, func() bool {
		return gen.Counter() >= 2
	}, time.Second, time.Millisecond)

	gen.Stop()
	assert.False(t, gen.Running())

	stopped := gen.Counter()
	lenAtStop := buf.Len(ChannelX)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, stopped, gen.Counter(), "no ticks after Stop")
	assert.Equal(t, lenAtStop, buf.Len(ChannelX))

	// idempotent
	gen.Stop()
}

func TestGenerator_ContextCancelStopsTicks(t *testing.T) {
	buf := NewBuffer(0)
	gen := NewGenerator(buf, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	gen.Start(ctx)
	require.Eventually(t, func() bool { return gen.Counter() >= 1 }, time.Second, time.Millisecond)

	cancel()
	gen.Stop()

	counter := gen.Counter()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, counter, gen.Counter())
}

func TestGenerator_StartTwiceIsNoop(t *testing.T) {
	gen := NewGenerator(NewBuffer(0), WithInterval(time.Hour))
	gen.Start(context.Background())
	gen.Start(context.Background())
	assert.True(t, gen.Running())
	gen.Stop()
	assert.False(t, gen.Running())
}
