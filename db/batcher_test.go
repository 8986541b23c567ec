package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"angelone_tickstream/models"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]models.MarketTick
	err     error
	called  chan struct{}
	block   chan struct{}
}

func newFakeInserter() *fakeInserter {
	return &fakeInserter{called: make(chan struct{}, 64)}
}

func (f *fakeInserter) InsertTicks(ctx context.Context, ticks []models.MarketTick) error {
	f.mu.Lock()
	f.batches = append(f.batches, append([]models.MarketTick(nil), ticks...))
	err := f.err
	f.mu.Unlock()

	f.called <- struct{}{}
	if f.block != nil {
		<-f.block
	}
	return err
}

func (f *fakeInserter) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, b := range f.batches {
		out = append(out, len(b))
	}
	return out
}

func record(token string) *models.TickRecord {
	return &models.TickRecord{
		Tick: &models.Tick{
			Mode:            models.LtpMode,
			ExchangeType:    models.NSE_CM,
			Token:           token,
			LastTradedPrice: 250050,
		},
		Name:        "SBIN-EQ",
		Exchange:    models.NSE_CM,
		RetrievedAt: time.Now(),
	}
}

func waitCalled(t *testing.T, f *fakeInserter) {
	t.Helper()
	select {
	case <-f.called:
	case <-time.After(2 * time.Second):
		t.Fatal("insert not called")
	}
}

func TestBatcherFlushesOnBatchSize(t *testing.T) {
	ins := newFakeInserter()
	b := NewTickBatcher(ins, BatcherOptions{BufferSize: 10, BatchSize: 3, FlushInterval: time.Hour}, zaptest.NewLogger(t).Sugar())

	for _, tok := range []string{"1", "2", "3", "4"} {
		require.NoError(t, b.Save(record(tok)))
	}
	waitCalled(t, ins)
	assert.Equal(t, []int{3}, ins.sizes())

	require.NoError(t, b.Close())
	assert.Equal(t, []int{3, 1}, ins.sizes())

	stats := b.Stats()
	assert.Equal(t, int64(4), stats.Queued)
	assert.Equal(t, int64(4), stats.Flushed)
	assert.False(t, stats.LastFlush.IsZero())

	assert.ErrorIs(t, b.Save(record("5")), ErrClosed)
	assert.ErrorIs(t, b.Close(), ErrClosed)
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	ins := newFakeInserter()
	b := NewTickBatcher(ins, BatcherOptions{BufferSize: 10, BatchSize: 100, FlushInterval: 20 * time.Millisecond}, zaptest.NewLogger(t).Sugar())
	defer b.Close()

	require.NoError(t, b.Save(record("1")))
	waitCalled(t, ins)
	assert.Equal(t, []int{1}, ins.sizes())

	ins.mu.Lock()
	rows := ins.batches[0]
	ins.mu.Unlock()
	assert.Equal(t, "1", rows[0].Token)
	assert.Equal(t, 2500.5, rows[0].LastPrice)
}

func TestBatcherDropsWhenBufferFull(t *testing.T) {
	ins := newFakeInserter()
	ins.block = make(chan struct{})
	b := NewTickBatcher(ins, BatcherOptions{BufferSize: 1, BatchSize: 1, FlushInterval: time.Hour}, zaptest.NewLogger(t).Sugar())

	require.NoError(t, b.Save(record("1")))
	waitCalled(t, ins)
	require.NoError(t, b.Save(record("2")))
	assert.ErrorIs(t, b.Save(record("3")), ErrBufferFull)

	close(ins.block)
	require.NoError(t, b.Close())
	assert.Equal(t, []int{1, 1}, ins.sizes())

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestBatcherCountsFailedBatches(t *testing.T) {
	ins := newFakeInserter()
	ins.err = errors.New("clickhouse down")
	b := NewTickBatcher(ins, BatcherOptions{BufferSize: 10, BatchSize: 2, FlushInterval: time.Hour}, zaptest.NewLogger(t).Sugar())

	require.NoError(t, b.Save(record("1")))
	require.NoError(t, b.Save(record("2")))
	require.NoError(t, b.Close())

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.FailedBatches)
	assert.Zero(t, stats.Flushed)
}
