package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"angelone_tickstream/metrics"
	"angelone_tickstream/models"
)

var (
	ErrBufferFull = errors.New("tick buffer full")
	ErrClosed     = errors.New("batcher closed")
)

type Inserter interface {
	InsertTicks(ctx context.Context, ticks []models.MarketTick) error
}

type BatcherOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// TickBatcher buffers rows and writes them in batches, when BatchSize rows
// are pending or every FlushInterval. Save never blocks; rows that do not
// fit in the buffer are dropped.
type TickBatcher struct {
	ins  Inserter
	opts BatcherOptions
	log  *zap.SugaredLogger

	rows chan models.MarketTick
	done chan struct{}

	closeMu sync.RWMutex
	closed  bool

	statsMu sync.Mutex
	stats   models.SinkStats
}

func NewTickBatcher(ins Inserter, opts BatcherOptions, log *zap.SugaredLogger) *TickBatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.InsertTimeout <= 0 {
		opts.InsertTimeout = 30 * time.Second
	}
	b := &TickBatcher{
		ins:  ins,
		opts: opts,
		log:  log.Named("batcher"),
		rows: make(chan models.MarketTick, opts.BufferSize),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *TickBatcher) Save(rec *models.TickRecord) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.rows <- rec.Row():
		b.update(func(s *models.SinkStats) { s.Queued++ })
		return nil
	default:
		b.update(func(s *models.SinkStats) { s.Dropped++ })
		metrics.IncSinkBufferDrop()
		return ErrBufferFull
	}
}

// Close stops accepting rows and waits until everything buffered is written.
func (b *TickBatcher) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return ErrClosed
	}
	b.closed = true
	close(b.rows)
	b.closeMu.Unlock()

	<-b.done
	return nil
}

func (b *TickBatcher) Stats() models.SinkStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *TickBatcher) update(fn func(*models.SinkStats)) {
	b.statsMu.Lock()
	fn(&b.stats)
	b.statsMu.Unlock()
}

func (b *TickBatcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.MarketTick, 0, b.opts.BatchSize)
	for {
		select {
		case row, ok := <-b.rows:
			if !ok {
				b.flush(batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= b.opts.BatchSize {
				b.flush(batch)
				batch = make([]models.MarketTick, 0, b.opts.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = make([]models.MarketTick, 0, b.opts.BatchSize)
			}
		}
	}
}

func (b *TickBatcher) flush(batch []models.MarketTick) {
	if len(batch) == 0 {
		return
	}
	metrics.SetBatchSize(len(batch))

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.InsertTimeout)
	defer cancel()

	start := time.Now()
	err := b.ins.InsertTicks(ctx, batch)
	metrics.RecordInsertDuration(time.Since(start))
	if err != nil {
		b.update(func(s *models.SinkStats) { s.FailedBatches++ })
		b.log.Errorw("Failed to insert batch", "rows", len(batch), "error", err)
		return
	}
	b.update(func(s *models.SinkStats) {
		s.Flushed += int64(len(batch))
		s.LastFlush = time.Now()
	})
	b.log.Debugw("Batch inserted", "rows", len(batch), "duration", time.Since(start))
}
