package op

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

func testEvent(seq uint64, data any, ingestNs int64) *event.Event {
	return &event.Event{
		ID:       event.ID{Source: "test", Seq: seq},
		Data:     data,
		Meta:     make(event.Meta),
		IngestNs: ingestNs,
		Origin:   "test",
	}
}

func testTxEvent(seq uint64, data any, ingestNs int64) *event.Event {
	ev := testEvent(seq, data, ingestNs)
	ev.Transactional = true
	ev.Origins = []event.ID{ev.ID}
	return ev
}

func TestBatchRequiresABound(t *testing.T) {
	_, err := NewBatch("b", BatchConfig{})
	assert.Error(t, err)
}

func TestBatchCountTrigger(t *testing.T) {
	ctx := context.Background()
	b, err := NewBatch("b", BatchConfig{Count: 3})
	require.NoError(t, err)

	for seq := uint64(1); seq <= 2; seq++ {
		emits, err := b.OnEvent(ctx, PortIn, testEvent(seq, seq, int64(seq)))
		require.NoError(t, err)
		assert.Empty(t, emits)
	}

	emits, err := b.OnEvent(ctx, PortIn, testEvent(3, uint64(3), 3))
	require.NoError(t, err)
	require.Len(t, emits, 1)

	container := emits[0].Event
	assert.Equal(t, PortOut, emits[0].Port)
	assert.True(t, container.IsBatch)
	assert.Equal(t, int64(3), container.IngestNs)

	members := container.SubEvents()
	require.Len(t, members, 3)
	for i, member := range members {
		assert.Equal(t, uint64(i+1), member.Data)
	}
}

func TestBatchTimeoutTrigger(t *testing.T) {
	ctx := context.Background()
	b, err := NewBatch("b", BatchConfig{Count: 100, TimeoutNs: 50})
	require.NoError(t, err)

	_, err = b.OnEvent(ctx, PortIn, testEvent(1, "x", 10))
	require.NoError(t, err)

	// Not yet: 40ns since the first buffered event.
	emits, err := b.OnSignal(ctx, event.Signal{Kind: event.SignalTick, TickNs: 50})
	require.NoError(t, err)
	assert.Empty(t, emits)

	emits, err = b.OnSignal(ctx, event.Signal{Kind: event.SignalTick, TickNs: 60})
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Len(t, emits[0].Event.SubEvents(), 1)

	// Empty buffer: ticks are no-ops.
	emits, err = b.OnSignal(ctx, event.Signal{Kind: event.SignalTick, TickNs: 500})
	require.NoError(t, err)
	assert.Empty(t, emits)
}

func TestBatchExpandsIncomingContainers(t *testing.T) {
	ctx := context.Background()
	b, err := NewBatch("b", BatchConfig{Count: 4})
	require.NoError(t, err)

	inner := []*event.Event{
		testEvent(1, "a", 1),
		testEvent(2, "b", 2),
	}
	container := &event.Event{
		ID:      event.ID{Source: "upstream", Seq: 9},
		Data:    inner,
		Meta:    make(event.Meta),
		IsBatch: true,
	}

	emits, err := b.OnEvent(ctx, PortIn, container)
	require.NoError(t, err)
	assert.Empty(t, emits)

	emits, err = b.OnEvent(ctx, PortIn, testEvent(3, "c", 3))
	require.NoError(t, err)
	assert.Empty(t, emits)

	emits, err = b.OnEvent(ctx, PortIn, testEvent(4, "d", 4))
	require.NoError(t, err)
	require.Len(t, emits, 1)

	members := emits[0].Event.SubEvents()
	require.Len(t, members, 4)
	assert.Equal(t, "a", members[0].Data)
	assert.Equal(t, "d", members[3].Data)
}

func TestBatchMergesOrigins(t *testing.T) {
	ctx := context.Background()
	b, err := NewBatch("b", BatchConfig{Count: 2})
	require.NoError(t, err)

	_, err = b.OnEvent(ctx, PortIn, testTxEvent(1, "a", 1))
	require.NoError(t, err)
	emits, err := b.OnEvent(ctx, PortIn, testTxEvent(2, "b", 2))
	require.NoError(t, err)
	require.Len(t, emits, 1)

	container := emits[0].Event
	assert.True(t, container.Transactional)
	assert.Equal(t, []event.ID{
		{Source: "test", Seq: 1},
		{Source: "test", Seq: 2},
	}, container.Origins)
}

func TestBatchNonTransactionalContainer(t *testing.T) {
	ctx := context.Background()
	b, err := NewBatch("b", BatchConfig{Count: 1})
	require.NoError(t, err)

	emits, err := b.OnEvent(ctx, PortIn, testEvent(1, "a", 1))
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.False(t, emits[0].Event.Transactional)
	assert.Empty(t, emits[0].Event.Origins)
}

func TestBatchFlushesOnCircuitOpen(t *testing.T) {
	ctx := context.Background()
	b, err := NewBatch("b", BatchConfig{Count: 10})
	require.NoError(t, err)

	_, err = b.OnEvent(ctx, PortIn, testEvent(1, "a", 1))
	require.NoError(t, err)

	emits := b.OnContraflow(ctx, &event.Insight{Kind: event.InsightCircuitOpen, TimeNs: 99})
	require.Len(t, emits, 1)
	assert.Equal(t, int64(99), emits[0].Event.IngestNs)
	assert.Len(t, emits[0].Event.SubEvents(), 1)

	// Nothing buffered, nothing flushed.
	assert.Empty(t, b.OnContraflow(ctx, &event.Insight{Kind: event.InsightCircuitOpen}))
	// Other insight kinds never flush.
	_, err = b.OnEvent(ctx, PortIn, testEvent(2, "b", 2))
	require.NoError(t, err)
	assert.Empty(t, b.OnContraflow(ctx, &event.Insight{Kind: event.InsightAck}))
}
