// Package pipeline turns raw feed frames into enriched records and hands each
// one to a sink, synchronously and in arrival order.
package pipeline

import (
	"bytes"
	"errors"
	"time"

	"go.uber.org/zap"

	"angelone_tickstream/metrics"
	"angelone_tickstream/middleware"
	"angelone_tickstream/models"
	"angelone_tickstream/parser"
	"angelone_tickstream/resolver"
)

const DefaultSource = "smartapi"

// TokenResolver is the part of resolver.Resolver the emitter needs.
type TokenResolver interface {
	Resolve(token string) (resolver.Entry, error)
}

type Options struct {
	// Source is stamped on every record as socket_name.
	Source string
	// Now returns the retrieval time; defaults to time.Now.
	Now func() time.Time
}

type Emitter struct {
	resolver TokenResolver
	sink     Sink
	source   string
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewEmitter(r TokenResolver, sink Sink, opts Options, log *zap.SugaredLogger) *Emitter {
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Emitter{
		resolver: r,
		sink:     sink,
		source:   opts.Source,
		now:      opts.Now,
		log:      log.Named("emitter"),
	}
}

var pong = []byte("pong")

// HandleFrame decodes one inbound message and emits it. Binary messages are
// feed frames; text messages are either the heartbeat reply or a JSON tick.
// Errors are logged and counted here, never returned.
func (e *Emitter) HandleFrame(payload []byte, binary bool) {
	start := time.Now()
	defer func() { metrics.RecordProcessingDuration(time.Since(start)) }()

	var (
		tick *models.Tick
		err  error
	)
	if binary {
		metrics.IncFrame("binary")
		tick, err = parser.ParseBinaryData(payload)
	} else {
		if bytes.Equal(bytes.TrimSpace(payload), pong) {
			metrics.IncFrame("pong")
			return
		}
		metrics.IncFrame("text")
		tick, err = parser.ParseJSONData(payload)
	}
	if err != nil {
		reason := "malformed"
		var decErr *parser.DecodeError
		if errors.As(err, &decErr) {
			reason = decErr.Reason()
		}
		metrics.IncDecodeError(reason)
		e.log.Warnw("Dropping undecodable frame",
			"error", err,
			"length", len(payload),
			"binary", binary)
		return
	}

	if err := e.Emit(tick); err != nil {
		var resErr *resolver.ResolutionError
		if errors.As(err, &resErr) {
			metrics.IncDropped("unresolved_token")
			e.log.Warnw("Dropping tick for unknown token", "token", resErr.Token)
			return
		}
		metrics.IncSinkError()
		e.log.Errorw("Sink failed", "error", err, "token", tick.Token)
	}
}

// Emit enriches tick and calls the sink once. A tick whose token does not
// resolve is not emitted and a *resolver.ResolutionError is returned.
func (e *Emitter) Emit(tick *models.Tick) error {
	entry, err := e.resolver.Resolve(tick.Token)
	if err != nil {
		return err
	}
	rec := &models.TickRecord{
		Tick:        tick,
		Name:        entry.Name,
		Exchange:    entry.Exchange,
		Source:      e.source,
		RetrievedAt: e.now(),
	}
	if err := middleware.Recover(e.log, func() error { return e.sink.Save(rec) }); err != nil {
		return err
	}
	metrics.IncEmitted()
	return nil
}
