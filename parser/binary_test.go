package parser

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"angelone_tickstream/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A SNAP_QUOTE frame captured from the feed for token 17758. The tail after
// byte 147 carries best-five depth and circuit limits, which are not decoded.
const capturedSnapQuote = "0301313737353800000000000000000000000000000000000000006a4c000000" +
	"0000000d92547e920100001ec30000000000000a000000000000000ac2000000" +
	"000000e20d080000000000000000000000000000000000005ea64047c2000000" +
	"00000044c50000000000005abe000000000000a1c200000000000014fe086700" +
	"0000000000000000000000000000000000000001000000000000000000000000" +
	"0000000000000001000000000000000000000000000000000000000100000000" +
	"0000000000000000000000000000000100000000000000000000000000000000" +
	"000000010000000000000000000000000000000000000000002f0b0000000000" +
	"001ec30000000000000b00000000000000000000000000000000000000000000" +
	"0000000000000000000000000000000000000000000000000000000000000000" +
	"00000000000000000000000000000000000000000000000000000024ea000000" +
	"000000189c00000000000076ca0000000000006946000000000000"

func capturedFrame(t *testing.T) []byte {
	t.Helper()
	raw, err := hex.DecodeString(capturedSnapQuote)
	require.NoError(t, err)
	require.Len(t, raw, 379)
	return raw
}

func withMode(frame []byte, mode byte) []byte {
	out := append([]byte(nil), frame...)
	out[0] = mode
	return out
}

func TestParseBinaryData_CapturedSnapQuote(t *testing.T) {
	tick, err := ParseBinaryData(capturedFrame(t))
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"subscription_mode":               uint8(3),
		"exchange_type":                   uint8(1),
		"token":                           "17758",
		"sequence_number":                 int64(19562),
		"exchange_timestamp":              int64(1728696324621),
		"last_traded_price":               int64(49950),
		"last_traded_quantity":            int64(10),
		"average_traded_price":            int64(49674),
		"volume_trade_for_the_day":        int64(527842),
		"total_buy_quantity":              0.0,
		"total_sell_quantity":             2863.0,
		"open_price_of_the_day":           int64(49735),
		"high_price_of_the_day":           int64(50500),
		"low_price_of_the_day":            int64(48730),
		"closed_price":                    int64(49825),
		"last_traded_timestamp":           int64(1728642580),
		"open_interest":                   int64(0),
		"open_interest_change_percentage": int64(0),
	}, tick.Fields())
}

func TestParseBinaryData_ModesAreSupersets(t *testing.T) {
	frame := capturedFrame(t)

	ltp, err := ParseBinaryData(withMode(frame, 1))
	require.NoError(t, err)
	quote, err := ParseBinaryData(withMode(frame, 2))
	require.NoError(t, err)
	snap, err := ParseBinaryData(frame)
	require.NoError(t, err)

	ltpFields, quoteFields, snapFields := ltp.Fields(), quote.Fields(), snap.Fields()
	assert.Len(t, ltpFields, 6)
	assert.Len(t, quoteFields, 15)
	assert.Len(t, snapFields, 18)
	assert.Nil(t, ltp.Quote)
	assert.Nil(t, quote.Snap)

	for k, v := range ltpFields {
		if k == "subscription_mode" {
			continue
		}
		assert.Equal(t, v, quoteFields[k], k)
	}
	for k, v := range quoteFields {
		if k == "subscription_mode" {
			continue
		}
		assert.Equal(t, v, snapFields[k], k)
	}
}

func TestParseBinaryData_Truncated(t *testing.T) {
	frame := capturedFrame(t)
	cases := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"ltp short", withMode(frame, 1)[:LtpPacketSize-1]},
		{"quote short", withMode(frame, 2)[:QuotePacketSize-1]},
		{"snap quote short", frame[:SnapQuotePacketSize-1]},
		{"snap quote with only quote bytes", frame[:QuotePacketSize]},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tick, err := ParseBinaryData(c.frame)
			assert.Nil(t, tick)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTruncated))

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, "truncated", decErr.Reason())
		})
	}
}

func TestParseBinaryData_UnknownMode(t *testing.T) {
	frame := capturedFrame(t)
	for _, mode := range []byte{0, 4, 99} {
		tick, err := ParseBinaryData(withMode(frame, mode))
		assert.Nil(t, tick)
		assert.True(t, errors.Is(err, ErrUnknownMode), "mode %d", mode)
	}
}

func TestParseBinaryData_ExactLengths(t *testing.T) {
	frame := capturedFrame(t)
	_, err := ParseBinaryData(withMode(frame, 1)[:LtpPacketSize])
	assert.NoError(t, err)
	_, err = ParseBinaryData(withMode(frame, 2)[:QuotePacketSize])
	assert.NoError(t, err)
	_, err = ParseBinaryData(frame[:SnapQuotePacketSize])
	assert.NoError(t, err)
}

func TestEncodeBinaryData_RoundTrip(t *testing.T) {
	ticks := []*models.Tick{
		{
			Mode: models.LtpMode, ExchangeType: models.NSE_CM, Token: "2885",
			SequenceNumber: 1<<62 + 3, ExchangeTimestamp: 1728696324621, LastTradedPrice: -1,
		},
		{
			Mode: models.QuoteMode, ExchangeType: models.BSE_CM, Token: "500325",
			SequenceNumber: 7, ExchangeTimestamp: 1, LastTradedPrice: 9223372036854775807,
			Quote: &models.QuoteFields{LastTradedQuantity: 5, TotalBuyQuantity: 12.5, ClosedPrice: 42},
		},
		{
			Mode: models.SnapQuoteMode, ExchangeType: models.NSE_FO, Token: strings.Repeat("9", 25),
			LastTradedPrice: 100,
			Quote:           &models.QuoteFields{VolumeTradeForTheDay: 99},
			Snap:            &models.SnapQuoteFields{OpenInterest: 1234, OpenInterestChangePercentage: -3},
		},
	}
	for _, want := range ticks {
		t.Run(want.Mode.String(), func(t *testing.T) {
			raw, err := EncodeBinaryData(want)
			require.NoError(t, err)
			assert.Len(t, raw, requiredSize(want.Mode))

			got, err := ParseBinaryData(raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestEncodeBinaryData_Rejects(t *testing.T) {
	_, err := EncodeBinaryData(&models.Tick{Mode: 9})
	assert.True(t, errors.Is(err, ErrUnknownMode))
	_, err = EncodeBinaryData(&models.Tick{Mode: models.LtpMode, Token: strings.Repeat("1", 26)})
	assert.Error(t, err)
}

func TestParseJSONData(t *testing.T) {
	snap, err := ParseBinaryData(capturedFrame(t))
	require.NoError(t, err)
	raw, err := json.Marshal(snap.Fields())
	require.NoError(t, err)

	got, err := ParseJSONData(raw)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	_, err = ParseJSONData([]byte(`{"subscription_mode": 2, "exchange_type": 1, "token": "1",
		"sequence_number": 1, "exchange_timestamp": 1, "last_traded_price": 1}`))
	assert.True(t, errors.Is(err, ErrTruncated))

	_, err = ParseJSONData([]byte(`{"subscription_mode": 0}`))
	assert.True(t, errors.Is(err, ErrUnknownMode))

	_, err = ParseJSONData([]byte(`not json`))
	assert.True(t, errors.Is(err, ErrMalformed))
}
