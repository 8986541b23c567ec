package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"angelone_tickstream/models"
)

// Frame lengths required by each subscription mode.
const (
	LtpPacketSize       = 51
	QuotePacketSize     = 123
	SnapQuotePacketSize = 147

	tokenWidth = 25
)

var (
	ErrTruncated   = errors.New("truncated frame")
	ErrUnknownMode = errors.New("unknown subscription mode")
)

// DecodeError describes a frame that could not be decoded. The frame is dropped,
// the connection stays open.
type DecodeError struct {
	Mode     uint8
	Length   int
	Required int
	Err      error
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrTruncated) {
		return fmt.Sprintf("decode: %v: mode %d needs %d bytes, got %d", e.Err, e.Mode, e.Required, e.Length)
	}
	return fmt.Sprintf("decode: %v: %d (frame length %d)", e.Err, e.Mode, e.Length)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reason is a short label used for metrics.
func (e *DecodeError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrTruncated):
		return "truncated"
	case errors.Is(e.Err, ErrUnknownMode):
		return "unknown_mode"
	}
	return "malformed"
}

func requiredSize(mode models.SubscriptionMode) int {
	switch mode {
	case models.LtpMode:
		return LtpPacketSize
	case models.QuoteMode:
		return QuotePacketSize
	case models.SnapQuoteMode:
		return SnapQuotePacketSize
	}
	return 0
}

// ParseBinaryData decodes one little-endian feed frame. Bytes beyond the
// mode's fixed layout are ignored.
func ParseBinaryData(data []byte) (*models.Tick, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Length: 0, Required: 1, Err: ErrTruncated}
	}
	mode := models.SubscriptionMode(data[0])
	required := requiredSize(mode)
	if required == 0 {
		return nil, &DecodeError{Mode: data[0], Length: len(data), Err: ErrUnknownMode}
	}
	if len(data) < required {
		return nil, &DecodeError{Mode: data[0], Length: len(data), Required: required, Err: ErrTruncated}
	}

	t := &models.Tick{
		Mode:         mode,
		ExchangeType: models.ExchangeType(data[1]),
		Token:        string(bytes.TrimRight(data[2:2+tokenWidth], "\x00")),
	}

	reader := bytes.NewReader(data[2+tokenWidth : required])
	fields := []interface{}{&t.SequenceNumber, &t.ExchangeTimestamp, &t.LastTradedPrice}

	switch mode {
	case models.LtpMode:
	case models.QuoteMode, models.SnapQuoteMode:
		q := &models.QuoteFields{}
		t.Quote = q
		fields = append(fields,
			&q.LastTradedQuantity,
			&q.AverageTradedPrice,
			&q.VolumeTradeForTheDay,
			&q.TotalBuyQuantity,
			&q.TotalSellQuantity,
			&q.OpenPriceOfTheDay,
			&q.HighPriceOfTheDay,
			&q.LowPriceOfTheDay,
			&q.ClosedPrice,
		)
		if mode == models.SnapQuoteMode {
			s := &models.SnapQuoteFields{}
			t.Snap = s
			fields = append(fields, &s.LastTradedTimestamp, &s.OpenInterest, &s.OpenInterestChangePercentage)
		}
	}

	for _, f := range fields {
		if err := binary.Read(reader, binary.LittleEndian, f); err != nil {
			return nil, &DecodeError{Mode: data[0], Length: len(data), Required: required, Err: fmt.Errorf("%w: %v", ErrTruncated, err)}
		}
	}
	return t, nil
}

// EncodeBinaryData is the inverse of ParseBinaryData. It writes exactly the
// bytes the tick's mode requires.
func EncodeBinaryData(t *models.Tick) ([]byte, error) {
	required := requiredSize(t.Mode)
	if required == 0 {
		return nil, &DecodeError{Mode: uint8(t.Mode), Err: ErrUnknownMode}
	}
	if len(t.Token) > tokenWidth {
		return nil, fmt.Errorf("encode: token %q longer than %d bytes", t.Token, tokenWidth)
	}

	buf := bytes.NewBuffer(make([]byte, 0, required))
	buf.WriteByte(byte(t.Mode))
	buf.WriteByte(byte(t.ExchangeType))
	token := make([]byte, tokenWidth)
	copy(token, t.Token)
	buf.Write(token)

	fields := []interface{}{t.SequenceNumber, t.ExchangeTimestamp, t.LastTradedPrice}
	if t.Mode != models.LtpMode {
		q := t.Quote
		if q == nil {
			q = &models.QuoteFields{}
		}
		fields = append(fields,
			q.LastTradedQuantity,
			q.AverageTradedPrice,
			q.VolumeTradeForTheDay,
			q.TotalBuyQuantity,
			q.TotalSellQuantity,
			q.OpenPriceOfTheDay,
			q.HighPriceOfTheDay,
			q.LowPriceOfTheDay,
			q.ClosedPrice,
		)
	}
	if t.Mode == models.SnapQuoteMode {
		s := t.Snap
		if s == nil {
			s = &models.SnapQuoteFields{}
		}
		fields = append(fields, s.LastTradedTimestamp, s.OpenInterest, s.OpenInterestChangePercentage)
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
	}
	return buf.Bytes(), nil
}
