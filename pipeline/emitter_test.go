package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"angelone_tickstream/models"
	"angelone_tickstream/parser"
	"angelone_tickstream/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2024, 10, 12, 9, 15, 0, 0, time.UTC)

type recordingSink struct {
	records []*models.TickRecord
	err     error
}

func (s *recordingSink) Save(rec *models.TickRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func newTestEmitter(t *testing.T, sink Sink) *Emitter {
	r := resolver.New()
	r.Register(models.NSE_CM, map[string]string{"17758": "TATAINVEST-EQ"})
	return NewEmitter(r, sink, Options{Now: func() time.Time { return fixedNow }}, zaptest.NewLogger(t).Sugar())
}

func quoteFrame(t *testing.T, token string) []byte {
	t.Helper()
	raw, err := parser.EncodeBinaryData(&models.Tick{
		Mode: models.QuoteMode, ExchangeType: models.NSE_CM, Token: token,
		SequenceNumber: 1, ExchangeTimestamp: 1728696324621, LastTradedPrice: 49950,
		Quote: &models.QuoteFields{VolumeTradeForTheDay: 527842, ClosedPrice: 49825},
	})
	require.NoError(t, err)
	return raw
}

func TestHandleFrame_EmitsEnrichedRecord(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink)

	e.HandleFrame(quoteFrame(t, "17758"), true)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "TATAINVEST-EQ", rec.Name)
	assert.Equal(t, models.NSE_CM, rec.Exchange)
	assert.Equal(t, DefaultSource, rec.Source)
	assert.Equal(t, fixedNow, rec.RetrievedAt)
	assert.Equal(t, int64(49950), rec.Tick.LastTradedPrice)
	assert.Len(t, rec.Map(), 15+5)
}

func TestHandleFrame_DropsUnresolvedAndUndecodable(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink)

	e.HandleFrame(quoteFrame(t, "99999"), true)
	e.HandleFrame([]byte{2, 1, 0}, true)
	e.HandleFrame([]byte{42}, true)
	e.HandleFrame([]byte("pong"), false)
	e.HandleFrame([]byte("{oops"), false)

	assert.Empty(t, sink.records)
}

func TestHandleFrame_JSONFallback(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEmitter(t, sink)

	tick, err := parser.ParseBinaryData(quoteFrame(t, "17758"))
	require.NoError(t, err)
	raw, err := json.Marshal(tick.Fields())
	require.NoError(t, err)

	e.HandleFrame(raw, false)
	require.Len(t, sink.records, 1)
	assert.Equal(t, tick, sink.records[0].Tick)
}

func TestEmit_SinkErrorsAndPanics(t *testing.T) {
	sink := &recordingSink{err: errors.New("queue full")}
	e := newTestEmitter(t, sink)

	tick, err := parser.ParseBinaryData(quoteFrame(t, "17758"))
	require.NoError(t, err)
	assert.EqualError(t, e.Emit(tick), "queue full")
	assert.Len(t, sink.records, 1)

	panicky := newTestEmitter(t, SinkFunc(func(*models.TickRecord) error { panic("boom") }))
	assert.Error(t, panicky.Emit(tick))
	// the read loop carries on after a panicking sink
	panicky.HandleFrame(quoteFrame(t, "17758"), true)
}

func TestEmit_UnresolvedToken(t *testing.T) {
	e := newTestEmitter(t, &recordingSink{})
	err := e.Emit(&models.Tick{Mode: models.LtpMode, Token: "1"})
	assert.True(t, errors.Is(err, resolver.ErrTokenNotFound))
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEmitter(t, NewWriterSink(&buf))
	e.HandleFrame(quoteFrame(t, "17758"), true)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "TATAINVEST-EQ", got["name"])
	assert.Equal(t, "QUOTE", got["subscription_mode_val"])
	assert.Equal(t, "NSE_CM", got["exchange"])
}
