package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"angelone_tickstream/models"
)

// Sink receives each enriched record exactly once. Save runs on the
// connection's read goroutine, so it must return quickly; slow work belongs
// behind a queue.
type Sink interface {
	Save(rec *models.TickRecord) error
}

type SinkFunc func(rec *models.TickRecord) error

func (f SinkFunc) Save(rec *models.TickRecord) error { return f(rec) }

// WriterSink writes records as JSON lines.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Save(rec *models.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
