package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstream_frames_received_total",
		Help: "Frames read from the feed by message type",
	}, []string{"type"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstream_decode_errors_total",
		Help: "Frames dropped because they could not be decoded",
	}, []string{"reason"})

	droppedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstream_dropped_records_total",
		Help: "Decoded ticks that were not emitted",
	}, []string{"reason"})

	emittedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickstream_emitted_records_total",
		Help: "Enriched records handed to the sink",
	})

	sinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickstream_sink_errors_total",
		Help: "Sink calls that returned an error or panicked",
	})

	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickstream_frame_processing_seconds",
		Help:    "Time spent decoding, enriching and emitting one frame",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// Connection
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickstream_connection_state",
		Help: "Connection state per client (0 disconnected, 1 connecting, 2 connected, 3 closing)",
	}, []string{"client"})

	connects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstream_connects_total",
		Help: "Connection attempts by outcome",
	}, []string{"status"})

	activeSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickstream_active_subscriptions",
		Help: "Tokens currently held in the subscription registry",
	}, []string{"client"})

	// Sink
	sinkBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickstream_sink_buffer_drops_total",
		Help: "Records dropped because the sink buffer was full",
	})

	insertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clickhouse_insert_duration_seconds",
		Help:    "Time taken for ClickHouse batch inserts",
		Buckets: prometheus.LinearBuckets(0.01, 0.05, 10),
	})

	batchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickstream_batch_size",
		Help: "Size of the last flushed batch",
	})

	// Internal counters for the health endpoint
	emitted       uint64
	lastEmittedNs int64
)

func IncFrame(msgType string)       { framesReceived.WithLabelValues(msgType).Inc() }
func IncDecodeError(reason string)  { decodeErrors.WithLabelValues(reason).Inc() }
func IncDropped(reason string)      { droppedRecords.WithLabelValues(reason).Inc() }
func IncSinkError()                 { sinkErrors.Inc() }
func IncConnect(status string)      { connects.WithLabelValues(status).Inc() }
func IncSinkBufferDrop()            { sinkBufferDrops.Inc() }
func SetBatchSize(n int)            { batchSize.Set(float64(n)) }

func IncEmitted() {
	atomic.AddUint64(&emitted, 1)
	atomic.StoreInt64(&lastEmittedNs, time.Now().UnixNano())
	emittedRecords.Inc()
}

func SetConnectionState(client string, state int) {
	connectionState.WithLabelValues(client).Set(float64(state))
}

func SetActiveSubscriptions(client string, n int) {
	activeSubscriptions.WithLabelValues(client).Set(float64(n))
}

func RecordProcessingDuration(d time.Duration) {
	processingDuration.Observe(d.Seconds())
}

func RecordInsertDuration(d time.Duration) {
	insertDuration.Observe(d.Seconds())
}

// GetStats returns the number of emitted records and when the last one was emitted.
func GetStats() (uint64, time.Time) {
	var last time.Time
	if ns := atomic.LoadInt64(&lastEmittedNs); ns > 0 {
		last = time.Unix(0, ns)
	}
	return atomic.LoadUint64(&emitted), last
}
