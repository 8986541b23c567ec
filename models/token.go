package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SubscriptionAction is the "action" field of an outbound subscription envelope.
type SubscriptionAction int

const (
	UnsubscribeAction SubscriptionAction = 0
	SubscribeAction   SubscriptionAction = 1
)

// SubscriptionMode selects how much data the feed sends per tick.
// Values are ordered by increasing payload richness.
type SubscriptionMode uint8

const (
	LtpMode       SubscriptionMode = 1
	QuoteMode     SubscriptionMode = 2
	SnapQuoteMode SubscriptionMode = 3
)

func (m SubscriptionMode) Valid() bool {
	switch m {
	case LtpMode, QuoteMode, SnapQuoteMode:
		return true
	}
	return false
}

func (m SubscriptionMode) String() string {
	switch m {
	case LtpMode:
		return "LTP"
	case QuoteMode:
		return "QUOTE"
	case SnapQuoteMode:
		return "SNAP_QUOTE"
	}
	return "UNKNOWN(" + strconv.Itoa(int(m)) + ")"
}

// ParseSubscriptionMode accepts "ltp", "quote", "snap_quote" (any case, '-' or ' ' for '_')
// or the numeric wire value.
func ParseSubscriptionMode(s string) (SubscriptionMode, error) {
	norm := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	switch norm {
	case "LTP":
		return LtpMode, nil
	case "QUOTE":
		return QuoteMode, nil
	case "SNAP_QUOTE", "SNAPQUOTE":
		return SnapQuoteMode, nil
	}
	if n, err := strconv.Atoi(norm); err == nil && SubscriptionMode(n).Valid() {
		return SubscriptionMode(n), nil
	}
	return 0, fmt.Errorf("unknown subscription mode %q", s)
}

// ExchangeType is the exchange segment code used on the wire.
type ExchangeType uint8

const (
	NSE_CM ExchangeType = 1
	NSE_FO ExchangeType = 2
	BSE_CM ExchangeType = 3
	BSE_FO ExchangeType = 4
	MCX_FO ExchangeType = 5
	NCX_FO ExchangeType = 7
	CDE_FO ExchangeType = 13
)

var ExchangeMap = map[string]ExchangeType{
	"NSE_CM": NSE_CM,
	"NSE_FO": NSE_FO,
	"BSE_CM": BSE_CM,
	"BSE_FO": BSE_FO,
	"MCX_FO": MCX_FO,
	"NCX_FO": NCX_FO,
	"CDE_FO": CDE_FO,
}

func (e ExchangeType) Valid() bool {
	for _, v := range ExchangeMap {
		if v == e {
			return true
		}
	}
	return false
}

func (e ExchangeType) String() string {
	for name, v := range ExchangeMap {
		if v == e {
			return name
		}
	}
	return "UNKNOWN(" + strconv.Itoa(int(e)) + ")"
}

// ParseExchangeType accepts a segment name such as "nse_cm" or its numeric code.
func ParseExchangeType(s string) (ExchangeType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if e, ok := ExchangeMap[norm]; ok {
		return e, nil
	}
	if n, err := strconv.Atoi(norm); err == nil && ExchangeType(n).Valid() {
		return ExchangeType(n), nil
	}
	return 0, fmt.Errorf("unknown exchange type %q", s)
}
