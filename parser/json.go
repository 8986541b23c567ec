package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"angelone_tickstream/models"
)

var ErrMalformed = errors.New("malformed frame")

type jsonFrame struct {
	SubscriptionMode  *uint8  `json:"subscription_mode"`
	ExchangeType      *uint8  `json:"exchange_type"`
	Token             *string `json:"token"`
	SequenceNumber    *int64  `json:"sequence_number"`
	ExchangeTimestamp *int64  `json:"exchange_timestamp"`
	LastTradedPrice   *int64  `json:"last_traded_price"`

	LastTradedQuantity   *int64   `json:"last_traded_quantity"`
	AverageTradedPrice   *int64   `json:"average_traded_price"`
	VolumeTradeForTheDay *int64   `json:"volume_trade_for_the_day"`
	TotalBuyQuantity     *float64 `json:"total_buy_quantity"`
	TotalSellQuantity    *float64 `json:"total_sell_quantity"`
	OpenPriceOfTheDay    *int64   `json:"open_price_of_the_day"`
	HighPriceOfTheDay    *int64   `json:"high_price_of_the_day"`
	LowPriceOfTheDay     *int64   `json:"low_price_of_the_day"`
	ClosedPrice          *int64   `json:"closed_price"`

	LastTradedTimestamp          *int64 `json:"last_traded_timestamp"`
	OpenInterest                 *int64 `json:"open_interest"`
	OpenInterestChangePercentage *int64 `json:"open_interest_change_percentage"`
}

func allSet(set ...bool) bool {
	for _, ok := range set {
		if !ok {
			return false
		}
	}
	return true
}

// ParseJSONData decodes the textual form of a tick, used by non-binary
// fallback paths. The same mode rules as ParseBinaryData apply: fields the
// mode requires must all be present.
func ParseJSONData(data []byte) (*models.Tick, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &DecodeError{Length: len(data), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if f.SubscriptionMode == nil {
		return nil, &DecodeError{Length: len(data), Err: fmt.Errorf("%w: missing subscription_mode", ErrMalformed)}
	}

	mode := models.SubscriptionMode(*f.SubscriptionMode)
	required := requiredSize(mode)
	if required == 0 {
		return nil, &DecodeError{Mode: *f.SubscriptionMode, Length: len(data), Err: ErrUnknownMode}
	}
	truncated := &DecodeError{Mode: *f.SubscriptionMode, Length: len(data), Required: required, Err: ErrTruncated}

	if !allSet(f.ExchangeType != nil, f.Token != nil, f.SequenceNumber != nil,
		f.ExchangeTimestamp != nil, f.LastTradedPrice != nil) {
		return nil, truncated
	}
	t := &models.Tick{
		Mode:              mode,
		ExchangeType:      models.ExchangeType(*f.ExchangeType),
		Token:             *f.Token,
		SequenceNumber:    *f.SequenceNumber,
		ExchangeTimestamp: *f.ExchangeTimestamp,
		LastTradedPrice:   *f.LastTradedPrice,
	}

	switch mode {
	case models.LtpMode:
		return t, nil
	case models.QuoteMode, models.SnapQuoteMode:
		if !allSet(f.LastTradedQuantity != nil, f.AverageTradedPrice != nil, f.VolumeTradeForTheDay != nil,
			f.TotalBuyQuantity != nil, f.TotalSellQuantity != nil, f.OpenPriceOfTheDay != nil,
			f.HighPriceOfTheDay != nil, f.LowPriceOfTheDay != nil, f.ClosedPrice != nil) {
			return nil, truncated
		}
		t.Quote = &models.QuoteFields{
			LastTradedQuantity:   *f.LastTradedQuantity,
			AverageTradedPrice:   *f.AverageTradedPrice,
			VolumeTradeForTheDay: *f.VolumeTradeForTheDay,
			TotalBuyQuantity:     *f.TotalBuyQuantity,
			TotalSellQuantity:    *f.TotalSellQuantity,
			OpenPriceOfTheDay:    *f.OpenPriceOfTheDay,
			HighPriceOfTheDay:    *f.HighPriceOfTheDay,
			LowPriceOfTheDay:     *f.LowPriceOfTheDay,
			ClosedPrice:          *f.ClosedPrice,
		}
	}
	if mode == models.SnapQuoteMode {
		if !allSet(f.LastTradedTimestamp != nil, f.OpenInterest != nil, f.OpenInterestChangePercentage != nil) {
			return nil, truncated
		}
		t.Snap = &models.SnapQuoteFields{
			LastTradedTimestamp:          *f.LastTradedTimestamp,
			OpenInterest:                 *f.OpenInterest,
			OpenInterestChangePercentage: *f.OpenInterestChangePercentage,
		}
	}
	return t, nil
}
