package models

import (
	"encoding/json"
	"time"
)

// Tick is one decoded feed frame. Quote is set for QUOTE and SNAP_QUOTE frames,
// Snap only for SNAP_QUOTE frames. Prices are in paise.
type Tick struct {
	Mode              SubscriptionMode
	ExchangeType      ExchangeType
	Token             string
	SequenceNumber    int64
	ExchangeTimestamp int64
	LastTradedPrice   int64

	Quote *QuoteFields
	Snap  *SnapQuoteFields
}

type QuoteFields struct {
	LastTradedQuantity    int64
	AverageTradedPrice    int64
	VolumeTradeForTheDay  int64
	TotalBuyQuantity      float64
	TotalSellQuantity     float64
	OpenPriceOfTheDay     int64
	HighPriceOfTheDay     int64
	LowPriceOfTheDay      int64
	ClosedPrice           int64
}

type SnapQuoteFields struct {
	LastTradedTimestamp          int64
	OpenInterest                 int64
	OpenInterestChangePercentage int64
}

// Price converts a paise value to rupees.
func Price(paise int64) float64 {
	return float64(paise) / 100.0
}

// Fields returns the decoded wire fields keyed by their feed names.
// LTP frames yield 6 keys, QUOTE 15 and SNAP_QUOTE 18.
func (t *Tick) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"subscription_mode":  uint8(t.Mode),
		"exchange_type":      uint8(t.ExchangeType),
		"token":              t.Token,
		"sequence_number":    t.SequenceNumber,
		"exchange_timestamp": t.ExchangeTimestamp,
		"last_traded_price":  t.LastTradedPrice,
	}
	if q := t.Quote; q != nil {
		f["last_traded_quantity"] = q.LastTradedQuantity
		f["average_traded_price"] = q.AverageTradedPrice
		f["volume_trade_for_the_day"] = q.VolumeTradeForTheDay
		f["total_buy_quantity"] = q.TotalBuyQuantity
		f["total_sell_quantity"] = q.TotalSellQuantity
		f["open_price_of_the_day"] = q.OpenPriceOfTheDay
		f["high_price_of_the_day"] = q.HighPriceOfTheDay
		f["low_price_of_the_day"] = q.LowPriceOfTheDay
		f["closed_price"] = q.ClosedPrice
	}
	if s := t.Snap; s != nil {
		f["last_traded_timestamp"] = s.LastTradedTimestamp
		f["open_interest"] = s.OpenInterest
		f["open_interest_change_percentage"] = s.OpenInterestChangePercentage
	}
	return f
}

// TickRecord is a decoded tick enriched with retrieval metadata. It is what sinks receive.
type TickRecord struct {
	Tick        *Tick
	Name        string
	Exchange    ExchangeType
	Source      string
	RetrievedAt time.Time
}

// Map flattens the record into a JSON-compatible mapping.
func (r *TickRecord) Map() map[string]interface{} {
	m := r.Tick.Fields()
	m["subscription_mode_val"] = r.Tick.Mode.String()
	m["name"] = r.Name
	m["exchange"] = r.Exchange.String()
	m["socket_name"] = r.Source
	m["retrieval_timestamp"] = float64(r.RetrievedAt.UnixNano()) / 1e9
	return m
}

func (r *TickRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// Row converts the record into a storage row.
func (r *TickRecord) Row() MarketTick {
	t := r.Tick
	row := MarketTick{
		Timestamp:         r.RetrievedAt,
		ExchangeTimestamp: time.UnixMilli(t.ExchangeTimestamp).UTC(),
		Token:             t.Token,
		Symbol:            r.Name,
		Exchange:          r.Exchange.String(),
		Mode:              t.Mode.String(),
		SequenceNumber:    t.SequenceNumber,
		LastPrice:         Price(t.LastTradedPrice),
	}
	if q := t.Quote; q != nil {
		row.Volume = q.VolumeTradeForTheDay
		row.AvgPrice = Price(q.AverageTradedPrice)
		row.BuyQuantity = q.TotalBuyQuantity
		row.SellQuantity = q.TotalSellQuantity
		row.OpenPrice = Price(q.OpenPriceOfTheDay)
		row.HighPrice = Price(q.HighPriceOfTheDay)
		row.LowPrice = Price(q.LowPriceOfTheDay)
		row.ClosePrice = Price(q.ClosedPrice)
	}
	if s := t.Snap; s != nil {
		row.OpenInterest = s.OpenInterest
	}
	return row
}

// MarketTick is one row of the market_ticks table.
type MarketTick struct {
	Timestamp         time.Time `ch:"timestamp"`
	ExchangeTimestamp time.Time `ch:"exchange_timestamp"`
	Token             string    `ch:"token"`
	Symbol            string    `ch:"symbol"`
	Exchange          string    `ch:"exchange"`
	Mode              string    `ch:"mode"`
	SequenceNumber    int64     `ch:"sequence_number"`
	LastPrice         float64   `ch:"last_price"`
	Volume            int64     `ch:"volume"`
	AvgPrice          float64   `ch:"avg_price"`
	BuyQuantity       float64   `ch:"buy_quantity"`
	SellQuantity      float64   `ch:"sell_quantity"`
	OpenPrice         float64   `ch:"open_price"`
	HighPrice         float64   `ch:"high_price"`
	LowPrice          float64   `ch:"low_price"`
	ClosePrice        float64   `ch:"close_price"`
	OpenInterest      int64     `ch:"open_interest"`
}
